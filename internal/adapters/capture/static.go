package capture

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/core"
)

// Static produces silent synthetic tracks instead of touching hardware.
// Used on headless hosts and in tests; negotiation and teardown behave
// exactly as with real devices.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (s *Static) Open(ctx context.Context, profile core.MediaConstraintProfile) (core.LocalMedia, error) {
	if profile.Audio == nil && profile.Video == nil {
		return nil, core.NewCaptureError(core.ErrCaptureUnknown, "no tracks requested")
	}

	media := &staticMedia{}
	stream := uuid.NewString()
	if profile.Audio != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, core.NewCaptureError(core.ErrCaptureUnknown, err.Error())
		}
		media.tracks = append(media.tracks, track)
	}
	if profile.Video != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, core.NewCaptureError(core.ErrCaptureUnknown, err.Error())
		}
		media.tracks = append(media.tracks, track)
	}
	return media, nil
}

type staticMedia struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	closed bool
}

func (m *staticMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), m.tracks...)
}

func (m *staticMedia) StopVideo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tracks[:0]
	for _, t := range m.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			continue
		}
		kept = append(kept, t)
	}
	m.tracks = kept
}

func (m *staticMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tracks = nil
}
