package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// LocalMedia is an acquired set of capture tracks. Exclusively owned by the
// media session; no other component touches the tracks directly.
type LocalMedia interface {
	// Tracks returns the live local tracks in attachment order.
	Tracks() []webrtc.TrackLocal
	// StopVideo stops and releases video tracks only, keeping audio running.
	StopVideo()
	// Close stops every track and releases the devices. Must be called
	// before a replacement capture is opened, never after discarding.
	Close()
}

// CaptureSource scoped-acquires camera/microphone devices. Open failures
// carry a *CaptureError with a user-displayable cause.
type CaptureSource interface {
	Open(ctx context.Context, profile MediaConstraintProfile) (LocalMedia, error)
}

// MediaSession owns the peer connection object, local/remote media and the
// negotiation procedures. It proposes health transitions via OnHealth and
// never mutates orchestrator state directly.
type MediaSession interface {
	// StartCapture acquires devices per profile, replacing (and stopping)
	// any prior capture first.
	StartCapture(ctx context.Context, profile MediaConstraintProfile) error
	HasLocalMedia() bool

	// CreateOffer requires capture already started (ErrNoLocalStream).
	// It attaches local tracks, generates and sets the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer attaches local tracks, applies the remote offer, then
	// generates and sets a local answer.
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// SetRemoteDescription fails with ErrNoConnection before any
	// offer/answer has created the underlying connection.
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AddCandidate buffers silently until a remote description is set, then
	// applies in arrival order. Duplicate/stale candidate errors are logged,
	// never propagated.
	AddCandidate(cand webrtc.ICECandidateInit)
	// RestartICE produces a new local offer with an ICE restart for the
	// recovery path.
	RestartICE(ctx context.Context) (webrtc.SessionDescription, error)

	// ToggleAudio/ToggleVideo mute or unmute without renegotiation.
	ToggleAudio(enabled bool)
	ToggleVideo(enabled bool)
	// StopVideo releases the camera while keeping audio flowing (the
	// audio-only fallback path).
	StopVideo()

	// ApplyCaps applies encoding ceilings to active video senders.
	ApplyCaps(caps EncodingCaps)

	Health() ConnectionHealth
	OnHealth(func(ConnectionHealth))
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnRemoteStream(func(kind webrtc.RTPCodecType))

	// SecureTransport reports whether encrypted transport is confirmed.
	// The second return is false while the state cannot be inspected.
	SecureTransport() (bool, bool)

	// EndCall is the single teardown path: idempotent, safe from any state,
	// synchronous from the caller's perspective. Leaves health at closed.
	EndCall()
}
