package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/core"
)

// StatsProbe derives network readings from the active peer connection's
// stats report (nominated ICE pair RTT, available bandwidth estimate).
// It satisfies the quality monitor's Probe contract.
type StatsProbe struct {
	conn *Conn
}

func NewStatsProbe(conn *Conn) *StatsProbe { return &StatsProbe{conn: conn} }

// LiveProbe samples whichever connection Current reports. Connections come
// and go with sessions while the quality monitor runs continuously; between
// sessions the network reads as reachable with no metrics.
type LiveProbe struct {
	Current func() *Conn
}

func (p *LiveProbe) Sample(ctx context.Context) (core.NetworkReading, error) {
	conn := p.Current()
	if conn == nil {
		return core.NetworkReading{Online: true}, nil
	}
	return NewStatsProbe(conn).Sample(ctx)
}

func (p *StatsProbe) Sample(ctx context.Context) (core.NetworkReading, error) {
	health := p.conn.Health()
	reading := core.NetworkReading{
		Online: health.State != core.ConnDisconnected && health.State != core.ConnFailed,
	}

	p.conn.mu.Lock()
	pc := p.conn.pc
	p.conn.mu.Unlock()
	if pc == nil {
		// Nothing established yet: report reachability only.
		return reading, nil
	}

	report := pc.GetStats()
	for _, stat := range report {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated {
			continue
		}
		reading.RoundTrip = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		reading.DownlinkMbps = pair.AvailableIncomingBitrate / 1e6
		return reading, nil
	}
	return reading, fmt.Errorf("%w: no nominated candidate pair", core.ErrStatsUnavailable)
}
