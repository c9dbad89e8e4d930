package quality

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairline/pairline/internal/core"
)

func TestClassifyOffline(t *testing.T) {
	s := Classify(core.NetworkReading{Online: false, DownlinkMbps: 50})
	assert.Equal(t, core.TierOffline, s.Tier)
}

func TestClassifyBaselines(t *testing.T) {
	cases := []struct {
		class core.NetworkClass
		want  core.Tier
	}{
		{core.Class4G, core.TierExcellent},
		{core.Class3G, core.TierGood},
		{core.Class2G, core.TierFair},
		{core.ClassSlow2G, core.TierPoor},
		{core.ClassUnknown, core.TierExcellent},
	}
	for _, tc := range cases {
		s := Classify(core.NetworkReading{Online: true, Class: tc.class})
		assert.Equal(t, tc.want, s.Tier, "class %s", tc.class)
	}
}

func TestClassifyDownlinkOverridesClass(t *testing.T) {
	cases := []struct {
		mbps float64
		want core.Tier
	}{
		{6.0, core.TierExcellent},
		{5.0, core.TierExcellent},
		{3.0, core.TierGood},
		{2.0, core.TierGood},
		{1.0, core.TierFair},
		{0.5, core.TierFair},
		{0.3, core.TierPoor},
	}
	for _, tc := range cases {
		// Class says slow-2g; a measured downlink wins.
		s := Classify(core.NetworkReading{Online: true, Class: core.ClassSlow2G, DownlinkMbps: tc.mbps})
		assert.Equal(t, tc.want, s.Tier, "%v mbps", tc.mbps)
	}
}

func TestClassifyRTTDowngradesOneStep(t *testing.T) {
	slow := 600 * time.Millisecond

	s := Classify(core.NetworkReading{Online: true, DownlinkMbps: 10, RoundTrip: slow})
	assert.Equal(t, core.TierGood, s.Tier)

	s = Classify(core.NetworkReading{Online: true, DownlinkMbps: 3, RoundTrip: slow})
	assert.Equal(t, core.TierFair, s.Tier)

	// fair and poor never drop further on RTT alone.
	s = Classify(core.NetworkReading{Online: true, DownlinkMbps: 1, RoundTrip: slow})
	assert.Equal(t, core.TierFair, s.Tier)

	s = Classify(core.NetworkReading{Online: true, DownlinkMbps: 0.1, RoundTrip: slow})
	assert.Equal(t, core.TierPoor, s.Tier)
}

func TestClassifyRTTAtThresholdKeepsTier(t *testing.T) {
	s := Classify(core.NetworkReading{Online: true, DownlinkMbps: 10, RoundTrip: 500 * time.Millisecond})
	assert.Equal(t, core.TierExcellent, s.Tier)
}

type settableProbe struct {
	mu      sync.Mutex
	reading core.NetworkReading
}

func (p *settableProbe) set(r core.NetworkReading) {
	p.mu.Lock()
	p.reading = r
	p.mu.Unlock()
}

func (p *settableProbe) Sample(context.Context) (core.NetworkReading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading, nil
}

func TestMonitorEmitsOnlyOnChange(t *testing.T) {
	probe := &settableProbe{reading: core.NetworkReading{Online: true, DownlinkMbps: 10}}
	m := NewMonitor(probe, time.Hour)

	samples := make(chan core.QualitySample, 8)
	m.OnSample(func(s core.QualitySample) { samples <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	first := <-samples
	require.Equal(t, core.TierExcellent, first.Tier)

	// Identical readings stay silent.
	m.Bump()
	m.Bump()
	select {
	case s := <-samples:
		t.Fatalf("unexpected emission: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}

	// Degrade the link; the next resample must emit.
	probe.set(core.NetworkReading{Online: true, DownlinkMbps: 1})
	m.Bump()
	select {
	case s := <-samples:
		assert.Equal(t, core.TierFair, s.Tier)
	case <-time.After(time.Second):
		t.Fatal("no emission after change")
	}

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, core.TierFair, last.Tier)
}

func TestMonitorSurvivesProbeErrors(t *testing.T) {
	m := NewMonitor(errProbe{}, time.Hour)
	fired := false
	m.OnSample(func(core.QualitySample) { fired = true })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)
	_, ok := m.Last()
	assert.False(t, ok)
}

type errProbe struct{}

func (errProbe) Sample(context.Context) (core.NetworkReading, error) {
	return core.NetworkReading{}, core.ErrStatsUnavailable
}
