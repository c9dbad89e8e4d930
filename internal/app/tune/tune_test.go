package tune

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairline/pairline/internal/core"
)

type fakeMedia struct {
	mu     sync.Mutex
	caps   []core.EncodingCaps
	secure bool
	known  bool
	health core.ConnectionHealth
}

func (f *fakeMedia) StartCapture(context.Context, core.MediaConstraintProfile) error { return nil }
func (f *fakeMedia) HasLocalMedia() bool                                             { return true }
func (f *fakeMedia) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}
func (f *fakeMedia) CreateAnswer(context.Context, webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}
func (f *fakeMedia) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (f *fakeMedia) AddCandidate(webrtc.ICECandidateInit)                 {}
func (f *fakeMedia) RestartICE(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}
func (f *fakeMedia) ToggleAudio(bool) {}
func (f *fakeMedia) ToggleVideo(bool) {}
func (f *fakeMedia) StopVideo()       {}

func (f *fakeMedia) ApplyCaps(caps core.EncodingCaps) {
	f.mu.Lock()
	f.caps = append(f.caps, caps)
	f.mu.Unlock()
}

func (f *fakeMedia) applied() []core.EncodingCaps {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.EncodingCaps(nil), f.caps...)
}

func (f *fakeMedia) Health() core.ConnectionHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}
func (f *fakeMedia) OnHealth(func(core.ConnectionHealth))           {}
func (f *fakeMedia) OnLocalCandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeMedia) OnRemoteStream(func(webrtc.RTPCodecType))       {}

func (f *fakeMedia) SecureTransport() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secure, f.known
}
func (f *fakeMedia) EndCall() {}

func TestCapsMonotonicallyDecrease(t *testing.T) {
	order := []core.Tier{core.TierExcellent, core.TierGood, core.TierFair, core.TierPoor}
	var prev *core.EncodingCaps
	for _, tier := range order {
		caps, ok := CapsFor(tier)
		require.True(t, ok, tier.String())
		if prev != nil {
			assert.Less(t, caps.MaxBitrateBps, prev.MaxBitrateBps)
			assert.Less(t, caps.MaxFrameRate, prev.MaxFrameRate)
		}
		c := caps
		prev = &c
	}

	_, ok := CapsFor(core.TierOffline)
	assert.False(t, ok)
}

func TestOptimizerRefreshOnChangeOnly(t *testing.T) {
	media := &fakeMedia{}
	o := NewOptimizer()

	o.Refresh(media, core.TierExcellent)
	o.Refresh(media, core.TierExcellent)
	require.Len(t, media.applied(), 1)

	o.Refresh(media, core.TierPoor)
	applied := media.applied()
	require.Len(t, applied, 2)
	assert.Equal(t, uint64(200_000), applied[1].MaxBitrateBps)

	// Offline carries no ceiling and must not clobber the tier memory.
	o.Refresh(media, core.TierOffline)
	require.Len(t, media.applied(), 2)

	o.Reset()
	o.Refresh(media, core.TierPoor)
	assert.Len(t, media.applied(), 3)
}

func TestVerifierConfirmsAndStops(t *testing.T) {
	media := &fakeMedia{secure: true, known: true}
	v := &Verifier{Interval: time.Millisecond, Checks: 10}

	fired := false
	done := make(chan struct{})
	go func() {
		v.Run(context.Background(), media, func() { fired = true })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("verifier did not return")
	}
	assert.False(t, fired)
}

func TestVerifierFlagsHealthyUnverifiedCall(t *testing.T) {
	media := &fakeMedia{health: core.ConnectionHealth{State: core.ConnConnected}}
	v := &Verifier{Interval: time.Millisecond, Checks: 3}

	fired := make(chan struct{}, 1)
	v.Run(context.Background(), media, func() { fired <- struct{}{} })

	select {
	case <-fired:
	default:
		t.Fatal("insecure callback not invoked")
	}
}

func TestVerifierSilentOnDeadConnection(t *testing.T) {
	media := &fakeMedia{health: core.ConnectionHealth{State: core.ConnFailed}}
	v := &Verifier{Interval: time.Millisecond, Checks: 3}

	fired := false
	v.Run(context.Background(), media, func() { fired = true })
	assert.False(t, fired)
}

func TestVerifierHonorsContext(t *testing.T) {
	media := &fakeMedia{health: core.ConnectionHealth{State: core.ConnConnected}}
	v := &Verifier{Interval: time.Hour, Checks: 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fired := false
	v.Run(ctx, media, func() { fired = true })
	assert.False(t, fired)
}
