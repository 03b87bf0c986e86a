package camera

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/logging"
)

// State is the acquisition state of a session.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateLive
	StateSnapshot
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateLive:
		return "live"
	case StateSnapshot:
		return "snapshot"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evStreamAcquired
	evStreamFailed
	evPlaySucceeded
	evPlayFailed
	evTimeoutFired
	evFrameGrabbed
	evTrackEnded
	evDeviceSelected
	evStop
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evStreamAcquired:
		return "stream_acquired"
	case evStreamFailed:
		return "stream_failed"
	case evPlaySucceeded:
		return "play_succeeded"
	case evPlayFailed:
		return "play_failed"
	case evTimeoutFired:
		return "timeout_fired"
	case evFrameGrabbed:
		return "frame_grabbed"
	case evTrackEnded:
		return "track_ended"
	case evDeviceSelected:
		return "device_selected"
	case evStop:
		return "stop"
	default:
		return "unknown"
	}
}

type event struct {
	kind     eventKind
	stream   Stream
	frame    image.Image
	err      error
	deviceID string
	// epoch ties asynchronous results to the acquisition attempt that
	// spawned them, so a stale Open result cannot corrupt a restarted
	// session.
	epoch uint64
}

// Session owns one camera acquisition lifecycle. All state transitions
// happen on a single goroutine fed by an event queue; the exported
// accessors read a mutex-guarded snapshot.
type Session struct {
	device Device
	cfg    conf.CameraSettings
	log    *slog.Logger

	events chan event
	done   chan struct{}

	// loop-owned, never touched outside run()
	epoch        uint64
	stream       Stream
	readyTimer   *time.Timer
	cancelWork   context.CancelFunc
	snapshotStop chan struct{}

	mu         sync.RWMutex
	state      State
	ready      bool
	diagnostic string
	frame      image.Image
	liveStream Stream

	closeOnce sync.Once
}

// NewSession creates a session in StateIdle and starts its event loop.
func NewSession(device Device, cfg *conf.CameraSettings) *Session {
	s := &Session{
		device: device,
		cfg:    *cfg,
		log:    logging.ForService("camera"),
		events: make(chan event, 32),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	go s.run()
	return s
}

// Start begins acquisition on the given device id, empty for any
// camera. A start while an acquisition is already pending is ignored.
func (s *Session) Start(deviceID string) {
	s.post(event{kind: evStart, deviceID: deviceID})
}

// SelectDevice switches to another camera, restarting the acquisition
// sequence from the beginning.
func (s *Session) SelectDevice(deviceID string) {
	s.post(event{kind: evDeviceSelected, deviceID: deviceID})
}

// State returns the current acquisition state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the session can serve frames for capture.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Diagnostic returns the failure description, empty unless StateFailed.
func (s *Session) Diagnostic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diagnostic
}

// Frame returns the current frame: the stream's decoded frame when
// live, the last grabbed snapshot otherwise. Nil before readiness.
func (s *Session) Frame() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateLive && s.liveStream != nil {
		if frame := s.liveStream.Frame(); frame != nil {
			return frame
		}
	}
	return s.frame
}

// Close tears the session down: stops the stream, cancels the snapshot
// poll and the readiness timer. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.post(event{kind: evStop})
		<-s.done
	})
}

// post delivers an event to the loop, dropping it when the session has
// already shut down so worker goroutines never block on a dead loop.
func (s *Session) post(ev event) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for ev := range s.events {
		if s.transition(ev) {
			return
		}
	}
}

// transition is the single place session state changes. It returns true
// when the loop should exit.
func (s *Session) transition(ev event) (stop bool) {
	state := s.State()
	s.log.Debug("camera event", "event", ev.kind.String(), "state", state.String())

	// Results from a previous acquisition attempt are stale.
	if ev.epoch != 0 && ev.epoch != s.epoch {
		s.cleanupStaleStream(ev)
		return false
	}

	switch ev.kind {
	case evStart:
		if state == StateRequesting {
			return false
		}
		s.teardownAcquisition()
		s.beginAcquisition(ev.deviceID)

	case evDeviceSelected:
		s.teardownAcquisition()
		s.beginAcquisition(ev.deviceID)

	case evStreamAcquired:
		if state != StateRequesting {
			ev.stream.Stop()
			return false
		}
		s.stream = ev.stream
		s.mu.Lock()
		s.liveStream = ev.stream
		s.mu.Unlock()
		// The readiness clock starts only once the device has produced a
		// stream. Arming it earlier would let a slow Open demote the
		// session to snapshot mode with nothing to grab from.
		s.startReadyTimer(s.epoch)
		s.watchTrack(ev.stream)
		s.startPlay(ev.stream)

	case evStreamFailed:
		s.teardownAcquisition()
		s.setFailed(ev.err)

	case evPlaySucceeded:
		if state != StateRequesting {
			return false
		}
		s.stopReadyTimer()
		s.setState(StateLive, true)

	case evPlayFailed, evTimeoutFired:
		if state != StateRequesting && state != StateLive {
			return false
		}
		s.stopReadyTimer()
		s.setState(StateSnapshot, false)
		s.startSnapshotLoop()

	case evFrameGrabbed:
		s.storeFrame(ev.frame)
		if state == StateSnapshot {
			s.setReady(true)
		}

	case evTrackEnded:
		s.teardownAcquisition()
		s.setFailed(errors.Newf("camera track ended unexpectedly").
			Component("camera").
			Category(errors.CategoryCamera).
			Build())

	case evStop:
		s.teardownAcquisition()
		s.setState(StateIdle, false)
		return true
	}
	return false
}

// cleanupStaleStream releases resources carried by events from an
// abandoned acquisition attempt.
func (s *Session) cleanupStaleStream(ev event) {
	if ev.kind == evStreamAcquired && ev.stream != nil {
		ev.stream.Stop()
	}
}

func (s *Session) beginAcquisition(deviceID string) {
	s.epoch++
	epoch := s.epoch
	s.setState(StateRequesting, false)
	s.clearDiagnostic()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWork = cancel

	constraints := Constraints{
		DeviceID:    deviceID,
		ExactDevice: deviceID != "",
		IdealWidth:  s.cfg.IdealWidth,
		IdealHeight: s.cfg.IdealHeight,
	}

	go func() {
		stream, err := s.device.Open(ctx, constraints)
		if err != nil && constraints.ExactDevice && retryable(err) {
			s.log.Warn("exact device open failed, retrying relaxed",
				"device_id", constraints.DeviceID, "error", err)
			stream, err = s.device.Open(ctx, constraints.Relaxed())
		}
		if err != nil {
			s.post(event{kind: evStreamFailed, err: err, epoch: epoch})
			return
		}
		s.post(event{kind: evStreamAcquired, stream: stream, epoch: epoch})
	}()
}

func (s *Session) startPlay(stream Stream) {
	epoch := s.epoch
	go func() {
		if err := stream.Play(context.Background()); err != nil {
			s.post(event{kind: evPlayFailed, err: err, epoch: epoch})
			return
		}
		s.post(event{kind: evPlaySucceeded, epoch: epoch})
	}()
}

func (s *Session) watchTrack(stream Stream) {
	epoch := s.epoch
	go func() {
		select {
		case <-stream.Ended():
			s.post(event{kind: evTrackEnded, epoch: epoch})
		case <-s.done:
		}
	}()
}

func (s *Session) startReadyTimer(epoch uint64) {
	timeout := time.Duration(s.cfg.ReadinessTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	s.readyTimer = time.AfterFunc(timeout, func() {
		s.post(event{kind: evTimeoutFired, epoch: epoch})
	})
}

func (s *Session) stopReadyTimer() {
	if s.readyTimer != nil {
		s.readyTimer.Stop()
		s.readyTimer = nil
	}
}

// startSnapshotLoop polls Grab on a ticker, standing in for the
// per-frame callback a rendering surface would provide.
func (s *Session) startSnapshotLoop() {
	if s.snapshotStop != nil {
		return
	}
	interval := time.Duration(s.cfg.SnapshotInterval) * time.Millisecond
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	stop := make(chan struct{})
	s.snapshotStop = stop
	stream := s.stream
	epoch := s.epoch

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.done:
				return
			case <-ticker.C:
				if stream == nil {
					continue
				}
				frame, err := stream.Grab(context.Background())
				if err != nil || frame == nil {
					continue
				}
				s.post(event{kind: evFrameGrabbed, frame: frame, epoch: epoch})
			}
		}
	}()
}

func (s *Session) teardownAcquisition() {
	if s.cancelWork != nil {
		s.cancelWork()
		s.cancelWork = nil
	}
	s.stopReadyTimer()
	if s.snapshotStop != nil {
		close(s.snapshotStop)
		s.snapshotStop = nil
	}
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	s.mu.Lock()
	s.ready = false
	s.frame = nil
	s.liveStream = nil
	s.mu.Unlock()
}

func (s *Session) setState(state State, ready bool) {
	s.mu.Lock()
	s.state = state
	s.ready = ready
	s.mu.Unlock()
}

func (s *Session) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *Session) storeFrame(frame image.Image) {
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}

func (s *Session) setFailed(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.ready = false
	if err != nil {
		s.diagnostic = err.Error()
	}
	s.mu.Unlock()
	s.log.Error("camera acquisition failed", "error", err)
}

func (s *Session) clearDiagnostic() {
	s.mu.Lock()
	s.diagnostic = ""
	s.mu.Unlock()
}
