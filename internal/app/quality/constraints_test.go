package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairline/pairline/internal/core"
)

func TestProfileEnvelopesShrinkWithTier(t *testing.T) {
	pref := DefaultPreference()
	order := []core.Tier{core.TierExcellent, core.TierGood, core.TierFair, core.TierPoor}

	var prev *core.TrackProfile
	for _, tier := range order {
		p := ProfileFor(tier, pref)
		require.NotNil(t, p.Video, tier.String())
		require.NotNil(t, p.Audio, tier.String())
		if prev != nil {
			assert.Less(t, p.Video.Width, prev.Width, tier.String())
			assert.Less(t, p.Video.Height, prev.Height, tier.String())
			assert.Less(t, p.Video.FrameRate, prev.FrameRate, tier.String())
		}
		prev = p.Video
	}
}

func TestProfileAudioOnlyRecommendation(t *testing.T) {
	pref := DefaultPreference()

	assert.False(t, ProfileFor(core.TierExcellent, pref).RecommendAudioOnly)
	assert.False(t, ProfileFor(core.TierGood, pref).RecommendAudioOnly)
	assert.True(t, ProfileFor(core.TierFair, pref).RecommendAudioOnly)
	assert.True(t, ProfileFor(core.TierPoor, pref).RecommendAudioOnly)
}

func TestProfileOffline(t *testing.T) {
	p := ProfileFor(core.TierOffline, DefaultPreference())
	assert.True(t, p.RecommendDisabled)
	assert.Nil(t, p.Audio)
	assert.Nil(t, p.Video)
}

func TestProfileHonorsPreference(t *testing.T) {
	p := ProfileFor(core.TierExcellent, Preference{Audio: true, Video: false})
	assert.NotNil(t, p.Audio)
	assert.Nil(t, p.Video)

	p = ProfileFor(core.TierPoor, Preference{Audio: false, Video: true})
	assert.Nil(t, p.Audio)
	assert.NotNil(t, p.Video)
}

func TestProfileNotCachedAcrossTiers(t *testing.T) {
	pref := DefaultPreference()
	a := ProfileFor(core.TierGood, pref)
	b := ProfileFor(core.TierGood, pref)
	require.NotSame(t, a.Video, b.Video)

	a.Video.Width = 1
	assert.NotEqual(t, a.Video.Width, b.Video.Width)
}
