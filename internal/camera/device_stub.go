//go:build !gocv
// +build !gocv

package camera

import (
	"context"
	"fmt"
)

// VideoDevice is the no-OpenCV build of the local camera backend. Every
// Open fails with a descriptive error so the station falls back to
// manual upload mode.
type VideoDevice struct{}

// NewVideoDevice returns the stub camera device.
func NewVideoDevice() *VideoDevice {
	return &VideoDevice{}
}

// Open always fails: this binary was built without the gocv tag.
func (d *VideoDevice) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	return nil, fmt.Errorf("camera support requires a build with the gocv tag: %w", ErrNotReadable)
}
