//go:build gocv
// +build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// VideoDevice opens local cameras through OpenCV.
type VideoDevice struct{}

// NewVideoDevice returns the OpenCV-backed camera device.
func NewVideoDevice() *VideoDevice {
	return &VideoDevice{}
}

// Open acquires a capture handle. DeviceID is the numeric camera index;
// an unparsable id under exact constraints maps to ErrOverconstrained.
func (d *VideoDevice) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	index := 0
	if constraints.DeviceID != "" {
		parsed, err := strconv.Atoi(constraints.DeviceID)
		if err != nil {
			if constraints.ExactDevice {
				return nil, fmt.Errorf("device id %q: %w", constraints.DeviceID, ErrOverconstrained)
			}
		} else {
			index = parsed
		}
	}

	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("opening camera %d: %w", index, ErrNotReadable)
	}
	if constraints.IdealWidth > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(constraints.IdealWidth))
	}
	if constraints.IdealHeight > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(constraints.IdealHeight))
	}

	// One probe read proves the device actually delivers frames.
	probe := gocv.NewMat()
	defer probe.Close()
	if ok := capture.Read(&probe); !ok || probe.Empty() {
		_ = capture.Close()
		return nil, fmt.Errorf("camera %d produced no frames: %w", index, ErrNotReadable)
	}

	return &videoStream{
		capture: capture,
		ended:   make(chan struct{}),
	}, nil
}

type videoStream struct {
	capture *gocv.VideoCapture

	mu    sync.RWMutex
	frame image.Image

	ended     chan struct{}
	stopOnce  sync.Once
	endedOnce sync.Once
	stop      chan struct{}
	startOnce sync.Once
}

// Play decodes frames continuously until the stream is stopped or the
// device stops delivering.
func (s *videoStream) Play(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		s.stop = make(chan struct{})
		first, err := s.readFrame()
		if err != nil {
			startErr = err
			return
		}
		s.setFrame(first)

		go func() {
			for {
				select {
				case <-s.stop:
					return
				default:
				}
				frame, err := s.readFrame()
				if err != nil {
					s.endedOnce.Do(func() { close(s.ended) })
					return
				}
				s.setFrame(frame)
			}
		}()
	})
	return startErr
}

// Grab reads a single frame on demand.
func (s *videoStream) Grab(ctx context.Context) (image.Image, error) {
	frame, err := s.readFrame()
	if err != nil {
		return nil, err
	}
	s.setFrame(frame)
	return frame, nil
}

func (s *videoStream) Frame() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

func (s *videoStream) Ended() <-chan struct{} {
	return s.ended
}

func (s *videoStream) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
		_ = s.capture.Close()
	})
}

func (s *videoStream) readFrame() (image.Image, error) {
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("frame read failed: %w", ErrNotReadable)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	return img, nil
}

func (s *videoStream) setFrame(frame image.Image) {
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}
