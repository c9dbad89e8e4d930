package quality

import "github.com/pairline/pairline/internal/core"

// Preference is what the user wants, independent of what the network allows.
type Preference struct {
	Audio bool
	Video bool
}

// DefaultPreference is full audio+video.
func DefaultPreference() Preference { return Preference{Audio: true, Video: true} }

// Monotonically decreasing capture envelopes per tier.
var envelopes = map[core.Tier]core.TrackProfile{
	core.TierExcellent: {Width: 1280, Height: 720, FrameRate: 30},
	core.TierGood:      {Width: 640, Height: 480, FrameRate: 24},
	core.TierFair:      {Width: 320, Height: 240, FrameRate: 15},
	core.TierPoor:      {Width: 160, Height: 120, FrameRate: 10},
}

// ProfileFor maps (tier, user preference) to a concrete constraint profile.
// Pure function; the result is recomputed on every change and never cached
// across tiers.
func ProfileFor(tier core.Tier, pref Preference) core.MediaConstraintProfile {
	if tier == core.TierOffline {
		// Nothing to fall back to: no video, no "try audio" hint.
		return core.MediaConstraintProfile{RecommendDisabled: true}
	}

	p := core.MediaConstraintProfile{}
	if pref.Audio {
		p.Audio = &core.TrackProfile{}
	}
	if pref.Video {
		env := envelopes[tier]
		p.Video = &env
	}
	if tier == core.TierFair || tier == core.TierPoor {
		p.RecommendAudioOnly = true
	}
	return p
}
