package core

import "time"

// Tier is the discrete classification of current network conditions.
type Tier int

const (
	TierExcellent Tier = iota
	TierGood
	TierFair
	TierPoor
	TierOffline
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	case TierPoor:
		return "poor"
	case TierOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Downgrade returns the tier one step worse. Fair and poor are never pushed
// further by the RTT rule, and offline stays offline.
func (t Tier) Downgrade() Tier {
	switch t {
	case TierExcellent:
		return TierGood
	case TierGood:
		return TierFair
	default:
		return t
	}
}

// NetworkClass is the coarse link classification reported by a probe.
type NetworkClass string

const (
	ClassUnknown NetworkClass = ""
	Class4G      NetworkClass = "4g"
	Class3G      NetworkClass = "3g"
	Class2G      NetworkClass = "2g"
	ClassSlow2G  NetworkClass = "slow-2g"
)

// NetworkReading is one raw observation of local network conditions.
// DownlinkMbps and RoundTrip are zero when no measurement exists.
type NetworkReading struct {
	Online       bool
	Class        NetworkClass
	DownlinkMbps float64
	RoundTrip    time.Duration
}

// QualitySample is an immutable classified sample. A new sample supersedes
// the previous one; samples are never mutated.
type QualitySample struct {
	Tier         Tier
	DownlinkMbps float64
	RoundTrip    time.Duration
	At           time.Time
}

// Same reports whether two samples carry identical tier and metrics,
// ignoring the timestamp. Used to suppress no-change emissions.
func (s QualitySample) Same(o QualitySample) bool {
	return s.Tier == o.Tier && s.DownlinkMbps == o.DownlinkMbps && s.RoundTrip == o.RoundTrip
}

// TrackProfile is a resolution/frame-rate ceiling for one capture track.
type TrackProfile struct {
	Width     int
	Height    int
	FrameRate float64
}

// MediaConstraintProfile is derived from (tier, user preference) and never
// cached across tiers. A nil track profile means the track is disabled.
type MediaConstraintProfile struct {
	Audio *TrackProfile
	Video *TrackProfile

	// RecommendAudioOnly is a UI hint on fair/poor tiers. The orchestrator
	// surfaces it but never acts on it unilaterally.
	RecommendAudioOnly bool
	// RecommendDisabled is set when the network is offline and there is
	// nothing to fall back to.
	RecommendDisabled bool
}

// EncodingCaps are one-time encoding parameter ceilings applied to active
// video senders after connect, refreshed when the tier changes.
type EncodingCaps struct {
	MaxBitrateBps uint64
	MaxFrameRate  float64
}
