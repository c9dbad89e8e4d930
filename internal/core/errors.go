package core

import (
	"errors"
	"fmt"
)

// Capture failures. Always user-recoverable, never fatal to the session.
var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrDeviceNotFound   = errors.New("capture device not found")
	ErrDeviceBusy       = errors.New("capture device busy")
	ErrCaptureUnknown   = errors.New("capture failed")
)

// Signaling and negotiation failures.
var (
	// ErrAuth means the relay rejected our credential. Fatal, surfaced immediately.
	ErrAuth = errors.New("relay rejected credential")
	// ErrTransport is an unexpected loss of the relay channel. Recoverable
	// up to the reconnect attempt ceiling.
	ErrTransport = errors.New("relay transport error")
	// ErrReconnectExhausted means automatic relay reconnection gave up.
	// Requires explicit user action to restart.
	ErrReconnectExhausted = errors.New("relay reconnect attempts exhausted")
	// ErrNegotiation covers malformed or out-of-order descriptions/candidates.
	ErrNegotiation = errors.New("negotiation error")
	// ErrStatsUnavailable means a stats/security poll failed. Never fatal.
	ErrStatsUnavailable = errors.New("connection stats unavailable")
)

// Ordering violations inside the connection manager.
var (
	// ErrNoLocalStream: offer/answer was requested before capture started.
	ErrNoLocalStream = errors.New("no local stream")
	// ErrNoConnection: a remote description arrived before any connection exists.
	ErrNoConnection = errors.New("no peer connection")
)

// CaptureError wraps one of the capture sentinels with a user-displayable cause.
type CaptureError struct {
	Kind  error
	Cause string
}

func (e *CaptureError) Error() string {
	if e.Cause == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Cause)
}

func (e *CaptureError) Unwrap() error { return e.Kind }

// NewCaptureError keeps construction obvious in adapters.
func NewCaptureError(kind error, cause string) *CaptureError {
	return &CaptureError{Kind: kind, Cause: cause}
}
