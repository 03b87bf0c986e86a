// Package camera drives frame acquisition for the inspection station:
// an explicit state machine around a physical capture device, a center
// crop of the current frame, and submission of crops to the server.
package camera

import (
	"context"
	stderrors "errors"
	"image"
)

// Sentinel errors that acquisition backends wrap so the session can
// decide whether a relaxed retry is worthwhile.
var (
	// ErrOverconstrained means the requested constraints (exact device,
	// resolution) cannot be satisfied.
	ErrOverconstrained = stderrors.New("camera: constraints cannot be satisfied")
	// ErrNotReadable means the device exists but its stream cannot be
	// read, typically because another process holds it.
	ErrNotReadable = stderrors.New("camera: device not readable")
)

// Constraints describe a stream request. An empty DeviceID lets the
// backend pick any camera.
type Constraints struct {
	DeviceID    string
	ExactDevice bool
	IdealWidth  int
	IdealHeight int
}

// Relaxed returns the constraints with the exact-device requirement
// dropped, used for the single retry after an overconstrained failure.
func (c Constraints) Relaxed() Constraints {
	c.DeviceID = ""
	c.ExactDevice = false
	return c
}

// Device abstracts a camera backend.
type Device interface {
	// Open acquires a stream honoring the constraints. Implementations
	// wrap ErrOverconstrained or ErrNotReadable where applicable.
	Open(ctx context.Context, constraints Constraints) (Stream, error)
}

// Stream is one live acquisition from a device.
type Stream interface {
	// Play starts continuous decoding. A non-nil error demotes the
	// session to snapshot polling.
	Play(ctx context.Context) error
	// Grab fetches a single frame, used by the snapshot fallback.
	Grab(ctx context.Context) (image.Image, error)
	// Frame returns the most recent decoded frame, nil before the
	// first one.
	Frame() image.Image
	// Ended is closed when the underlying track goes away.
	Ended() <-chan struct{}
	// Stop releases the stream. Must be idempotent.
	Stop()
}

// retryable reports whether an Open failure is worth one relaxed retry.
func retryable(err error) bool {
	return stderrors.Is(err, ErrOverconstrained) || stderrors.Is(err, ErrNotReadable)
}
