//go:build !linux

package capture

import (
	"context"

	"github.com/pairline/pairline/internal/core"
)

// Device is a stub on platforms without mediadevices drivers wired in.
type Device struct{}

func NewDevice(videoBitrate int) (*Device, error) { return &Device{}, nil }

func (d *Device) Open(ctx context.Context, profile core.MediaConstraintProfile) (core.LocalMedia, error) {
	return nil, core.NewCaptureError(core.ErrDeviceNotFound, "device capture not supported on this platform")
}
