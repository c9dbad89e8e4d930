// Package quality samples local network conditions, classifies them into a
// discrete tier and derives capture constraint profiles from the result.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
)

// Probe produces raw network readings. Implementations live with whatever
// owns the underlying signal (an established peer connection, a platform
// API, a test fixture).
type Probe interface {
	Sample(ctx context.Context) (core.NetworkReading, error)
}

// Monitor polls a probe, classifies readings and emits a QualitySample only
// when tier or metrics actually change.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu       sync.Mutex
	last     *core.QualitySample
	onSample func(core.QualitySample)

	kick   chan struct{}
	cancel context.CancelFunc
}

func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// OnSample sets the change callback. Set before Start.
func (m *Monitor) OnSample(fn func(core.QualitySample)) {
	m.mu.Lock()
	m.onSample = fn
	m.mu.Unlock()
}

// Start samples immediately, then on every tick and on every Bump, until
// ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			case <-m.kick:
				m.poll(ctx)
			}
		}
	}()
}

// Stop cancels the polling goroutine. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Bump forces an immediate resample, used on online/offline transitions and
// connection-information change events.
func (m *Monitor) Bump() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Last returns the most recent emitted sample, if any.
func (m *Monitor) Last() (core.QualitySample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return core.QualitySample{}, false
	}
	return *m.last, true
}

func (m *Monitor) poll(ctx context.Context) {
	reading, err := m.probe.Sample(ctx)
	if err != nil {
		// Monitoring degrades silently; a failed poll is never fatal.
		log.Debug().Err(err).Str("module", "quality").Msg("probe sample failed")
		return
	}
	sample := Classify(reading)

	m.mu.Lock()
	if m.last != nil && m.last.Same(sample) {
		m.mu.Unlock()
		return
	}
	m.last = &sample
	fn := m.onSample
	m.mu.Unlock()

	log.Info().
		Str("module", "quality").
		Str("tier", sample.Tier.String()).
		Float64("downlink_mbps", sample.DownlinkMbps).
		Dur("rtt", sample.RoundTrip).
		Msg("quality tier changed")

	if fn != nil {
		fn(sample)
	}
}

// Downlink thresholds in Mbps for tier overrides.
const (
	downlinkExcellent = 5.0
	downlinkGood      = 2.0
	downlinkFair      = 0.5
)

// rttDowngrade is the round-trip time above which a tier is pushed down by
// exactly one step.
const rttDowngrade = 500 * time.Millisecond

// Classify applies the classification policy in order, most specific wins:
// offline short-circuits, the coarse network class gives a baseline, a
// measured downlink overrides it, and a high RTT downgrades one step.
func Classify(r core.NetworkReading) core.QualitySample {
	now := time.Now()
	if !r.Online {
		return core.QualitySample{Tier: core.TierOffline, At: now}
	}

	tier := baselineFor(r.Class)
	if r.DownlinkMbps > 0 {
		switch {
		case r.DownlinkMbps >= downlinkExcellent:
			tier = core.TierExcellent
		case r.DownlinkMbps >= downlinkGood:
			tier = core.TierGood
		case r.DownlinkMbps >= downlinkFair:
			tier = core.TierFair
		default:
			tier = core.TierPoor
		}
	}
	if r.RoundTrip > rttDowngrade {
		tier = tier.Downgrade()
	}

	return core.QualitySample{
		Tier:         tier,
		DownlinkMbps: r.DownlinkMbps,
		RoundTrip:    r.RoundTrip,
		At:           now,
	}
}

func baselineFor(class core.NetworkClass) core.Tier {
	switch class {
	case core.Class4G:
		return core.TierExcellent
	case core.Class3G:
		return core.TierGood
	case core.Class2G:
		return core.TierFair
	case core.ClassSlow2G:
		return core.TierPoor
	default:
		// Unknown links start optimistic; measurements correct them.
		return core.TierExcellent
	}
}
