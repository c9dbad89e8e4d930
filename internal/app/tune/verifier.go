package tune

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
)

// Verifier polls the connection's transport once per interval for a bounded
// number of checks, looking for confirmed encrypted-transport state. It
// never blocks or terminates the call: false negatives are expected on some
// platforms, so the insecure callback is telemetry only.
type Verifier struct {
	Interval time.Duration
	Checks   int
}

func NewVerifier(checks int) *Verifier {
	if checks <= 0 {
		checks = 10
	}
	return &Verifier{Interval: time.Second, Checks: checks}
}

// Run blocks until confirmation, exhaustion or ctx cancellation. Callers
// run it in its own goroutine bound to the session context.
func (v *Verifier) Run(ctx context.Context, media core.MediaSession, onInsecure func()) {
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()

	for i := 0; i < v.Checks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		secure, known := media.SecureTransport()
		if secure {
			log.Info().Str("module", "tune").Int("checks", i+1).Msg("encrypted transport confirmed")
			return
		}
		if !known {
			// Stats not observable: monitoring degrades silently.
			log.Debug().Str("module", "tune").Msg("transport state unavailable")
		}
	}

	// Only flag when the call is otherwise healthy; a dead connection is
	// not a security finding.
	state := media.Health().State
	if state == core.ConnConnected || state == core.ConnDegraded {
		log.Warn().Str("module", "tune").Msg("encrypted transport never confirmed")
		if onInsecure != nil {
			onInsecure()
		}
	}
}
