//go:build linux

package capture

import (
	"context"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
)

// Device captures camera/microphone via pion/mediadevices (V4L2 + malgo).
type Device struct {
	selector *mediadevices.CodecSelector
}

// NewDevice builds the VP8+Opus codec selector used for every capture.
func NewDevice(videoBitrate int) (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if videoBitrate <= 0 {
		videoBitrate = 1_500_000
	}
	vpxParams.BitRate = videoBitrate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Device{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the selector's codecs on the media engine.
func (d *Device) Populate(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

// Open acquires devices for the requested profile. Failures map onto the
// capture taxonomy with the driver message as the displayable cause.
func (d *Device) Open(ctx context.Context, profile core.MediaConstraintProfile) (core.LocalMedia, error) {
	if profile.Audio == nil && profile.Video == nil {
		return nil, core.NewCaptureError(core.ErrCaptureUnknown, "no tracks requested")
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, core.NewCaptureError(core.ErrDeviceNotFound, "no media devices found")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if profile.Video != nil {
		env := *profile.Video
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only: MJPEG camera nodes can emit malformed JPEG
			// frames that poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: env.Width}
			c.Height = prop.IntRanged{Max: env.Height}
			if env.FrameRate > 0 {
				c.FrameRate = prop.FloatRanged{Max: float32(env.FrameRate)}
			}
		}
	}
	if profile.Audio != nil {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, mapCaptureError(err)
	}

	media := &deviceMedia{}
	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "capture").Msg("local track ended")
			}
		})
		media.tracks = append(media.tracks, track)
	}
	log.Info().Str("module", "capture").Int("tracks", len(media.tracks)).Msg("devices acquired")
	return media, nil
}

func mapCaptureError(err error) error {
	switch classifyCause(err.Error()) {
	case "permission":
		return core.NewCaptureError(core.ErrPermissionDenied, err.Error())
	case "busy":
		return core.NewCaptureError(core.ErrDeviceBusy, err.Error())
	case "notfound":
		return core.NewCaptureError(core.ErrDeviceNotFound, err.Error())
	default:
		return core.NewCaptureError(core.ErrCaptureUnknown, err.Error())
	}
}

type deviceMedia struct {
	mu     sync.Mutex
	tracks []mediadevices.Track
}

func (m *deviceMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

func (m *deviceMedia) StopVideo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tracks[:0]
	for _, t := range m.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			if err := t.Close(); err != nil {
				log.Debug().Err(err).Str("module", "capture").Msg("close video track")
			}
			continue
		}
		kept = append(kept, t)
	}
	m.tracks = kept
}

func (m *deviceMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "capture").Msg("close track")
		}
	}
	m.tracks = nil
}
