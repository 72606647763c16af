package capture

import (
	"chatkit/core"
	"chatkit/events/capture"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateStopped
	StateTranscribing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateTranscribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

var (
	ErrNotRecording = errors.New("capture: not recording")
	// ErrReleased is returned by Start when Release ran while the device
	// was still being acquired.
	ErrReleased = errors.New("capture: session released")
)

// AudioCaptureSession owns the single microphone recording. Only one
// recording can be live; the device is released on every exit path.
type AudioCaptureSession struct {
	mic    Microphone
	config CaptureConfig
	logger *core.Logger
	bus    *core.EventBus

	mu        sync.Mutex
	state     State
	stream    AudioStream
	startedAt time.Time
	// gen changes on every Start and Release so an acquisition that lost
	// the race can tell.
	gen uint64
}

func NewAudioCaptureSession(mic Microphone, config CaptureConfig, bus *core.EventBus, logger *core.Logger) *AudioCaptureSession {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &AudioCaptureSession{
		mic:    mic,
		config: config,
		bus:    bus,
		logger: logger.With(map[string]interface{}{"component": "capture", "device": mic.Name()}),
	}
}

func (s *AudioCaptureSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start asks for permission and acquires the microphone.
func (s *AudioCaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateAcquiring, StateRecording, StateStopped, StateTranscribing:
		s.mu.Unlock()
		return core.ErrDeviceBusy
	}
	s.state = StateAcquiring
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	granted, err := s.mic.RequestPermission(ctx)
	if err != nil || !granted {
		s.resetIfCurrent(gen)
		if err != nil {
			return fmt.Errorf("capture: permission: %w", err)
		}
		return core.ErrPermissionDenied
	}

	stream, err := s.mic.Open(ctx)
	if err != nil {
		s.resetIfCurrent(gen)
		return fmt.Errorf("capture: open %s: %w", s.mic.Name(), err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.closeStream(stream)
		return ErrReleased
	}
	s.stream = stream
	s.startedAt = time.Now()
	s.state = StateRecording
	s.mu.Unlock()

	s.logger.Info("recording started")
	s.bus.Publish(&capture.RecordingStartedEvent{Device: s.mic.Name()}, "AudioCaptureSession")
	return nil
}

// Stop ends the recording, releases the device and returns the clip.
// A clip without audio yields core.ErrEmptyCapture and the session goes
// straight back to idle.
func (s *AudioCaptureSession) Stop() (core.AudioClip, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return core.AudioClip{}, ErrNotRecording
	}
	stream := s.stream
	s.stream = nil
	elapsed := time.Since(s.startedAt)
	s.state = StateStopped
	gen := s.gen
	s.mu.Unlock()

	clip, stopErr := stream.Stop()
	s.closeStream(stream)

	if stopErr != nil {
		s.resetIfCurrent(gen)
		return core.AudioClip{}, fmt.Errorf("capture: stop: %w", stopErr)
	}

	duration := clip.Duration()
	empty := len(clip.Data) == 0 || duration <= 0 || duration < s.config.MinDuration
	s.bus.Publish(&capture.RecordingStoppedEvent{DurationMs: duration.Milliseconds(), Empty: empty}, "AudioCaptureSession")
	if empty {
		s.resetIfCurrent(gen)
		s.logger.Warn("recording was empty", "wall_time_ms", elapsed.Milliseconds())
		return core.AudioClip{}, core.ErrEmptyCapture
	}

	s.logger.Info("recording stopped", "duration_ms", duration.Milliseconds(), "bytes", len(clip.Data))
	return clip, nil
}

// MarkTranscribing moves a stopped session into the transcribing state so
// that no new recording starts until Finish.
func (s *AudioCaptureSession) MarkTranscribing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		s.state = StateTranscribing
	}
}

// Finish ends the session after transcription succeeded or failed.
func (s *AudioCaptureSession) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped || s.state == StateTranscribing {
		s.state = StateIdle
	}
}

// Release drops any live recording without producing a clip. It is safe to
// call at any time and more than once.
func (s *AudioCaptureSession) Release() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.gen++
	s.state = StateIdle
	s.mu.Unlock()

	if stream != nil {
		s.logger.Info("recording discarded")
		s.closeStream(stream)
	}
}

func (s *AudioCaptureSession) closeStream(stream AudioStream) {
	if err := stream.Close(); err != nil {
		s.logger.Warn("microphone release failed", "error", err)
	}
	s.bus.Publish(&capture.RecordingReleasedEvent{}, "AudioCaptureSession")
}

func (s *AudioCaptureSession) resetIfCurrent(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = StateIdle
	}
	s.mu.Unlock()
}
