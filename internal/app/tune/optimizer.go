// Package tune holds the post-connect adjustment loops: encoding caps per
// quality tier and the encrypted-transport verification window.
package tune

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
)

// Per-tier encoding ceilings. Monotonically decreasing with the capture
// envelopes in the quality package.
var tierCaps = map[core.Tier]core.EncodingCaps{
	core.TierExcellent: {MaxBitrateBps: 2_500_000, MaxFrameRate: 30},
	core.TierGood:      {MaxBitrateBps: 1_200_000, MaxFrameRate: 24},
	core.TierFair:      {MaxBitrateBps: 500_000, MaxFrameRate: 15},
	core.TierPoor:      {MaxBitrateBps: 200_000, MaxFrameRate: 10},
}

// CapsFor returns the encoding ceiling for a tier. Offline has none.
func CapsFor(tier core.Tier) (core.EncodingCaps, bool) {
	caps, ok := tierCaps[tier]
	return caps, ok
}

// Optimizer applies encoding caps to an established connection once after
// connect and again whenever the tier changes while connected.
type Optimizer struct {
	mu   sync.Mutex
	last *core.Tier
}

func NewOptimizer() *Optimizer { return &Optimizer{} }

// Refresh is a no-op when the tier has not changed since the last call.
func (o *Optimizer) Refresh(media core.MediaSession, tier core.Tier) {
	caps, ok := CapsFor(tier)
	if !ok {
		return
	}

	o.mu.Lock()
	if o.last != nil && *o.last == tier {
		o.mu.Unlock()
		return
	}
	t := tier
	o.last = &t
	o.mu.Unlock()

	media.ApplyCaps(caps)
	log.Info().Str("module", "tune").Str("tier", tier.String()).Msg("bitrate caps refreshed")
}

// Reset clears the tier memory when a session ends so the next session gets
// its one-time application.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	o.last = nil
	o.mu.Unlock()
}
