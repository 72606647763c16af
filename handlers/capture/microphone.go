package capture

import (
	"chatkit/core"
	"context"
)

// Microphone is the hardware collaborator. Open acquires the device; the
// returned stream owns it until Close.
type Microphone interface {
	Name() string
	RequestPermission(ctx context.Context) (bool, error)
	Open(ctx context.Context) (AudioStream, error)
}

// AudioStream is one acquired recording.
type AudioStream interface {
	// Stop ends capture and returns what was recorded so far.
	Stop() (core.AudioClip, error)
	// Close releases the device. Called exactly once per stream.
	Close() error
}

// ImagePicker is the camera or gallery collaborator. Pick returns nil when
// the user backs out without choosing anything.
type ImagePicker interface {
	RequestPermission(ctx context.Context) (bool, error)
	Pick(ctx context.Context) (*core.ImageRef, error)
}
