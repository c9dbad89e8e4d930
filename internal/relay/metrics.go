package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairline",
		Subsystem: "relay",
		Name:      "connected_peers",
		Help:      "Devices with an open signaling channel.",
	})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pairline",
		Subsystem: "relay",
		Name:      "queue_depth",
		Help:      "Devices waiting for a match, per queue type.",
	}, []string{"queue"})
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairline",
		Subsystem: "relay",
		Name:      "active_sessions",
		Help:      "Paired sessions currently relayed.",
	})
	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairline",
		Subsystem: "relay",
		Name:      "matches_total",
		Help:      "Completed pairings, per queue type.",
	}, []string{"queue"})
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairline",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Signaling frames processed, per type.",
	}, []string{"type"})
)
