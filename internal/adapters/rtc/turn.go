package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TURNCredential is the relay-assisted NAT traversal credential returned by
// the external credential service.
type TURNCredential struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int      `json:"ttl"`
}

// CredentialFetcher retrieves relay credentials with bounded backoff.
// Absence of the service is tolerated: callers fall back to
// direct-connection candidates only.
type CredentialFetcher struct {
	Endpoint  string
	Client    *http.Client
	BaseDelay time.Duration
	Attempts  int
}

func NewCredentialFetcher(endpoint string) *CredentialFetcher {
	return &CredentialFetcher{
		Endpoint:  endpoint,
		Client:    &http.Client{Timeout: 5 * time.Second},
		BaseDelay: time.Second,
		Attempts:  3,
	}
}

func (f *CredentialFetcher) Fetch(ctx context.Context) (*TURNCredential, error) {
	if f.Endpoint == "" {
		return nil, nil
	}

	var lastErr error
	delay := f.BaseDelay
	for attempt := 0; attempt < f.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		cred, err := f.fetchOnce(ctx)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("module", "rtc.turn").Int("attempt", attempt+1).Msg("credential fetch failed")
	}
	return nil, fmt.Errorf("turn credential fetch: %w", lastErr)
}

func (f *CredentialFetcher) fetchOnce(ctx context.Context) (*TURNCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential service returned %d", resp.StatusCode)
	}
	var cred TURNCredential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ICEServers combines configured STUN servers with an optional TURN
// credential. A nil credential yields STUN only.
func ICEServers(stun []string, cred *TURNCredential) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(stun)+1)
	for _, url := range stun {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	if cred != nil && len(cred.URLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cred.URLs,
			Username:   cred.Username,
			Credential: cred.Credential,
		})
	}
	return servers
}
