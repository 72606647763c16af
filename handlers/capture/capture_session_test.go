package capture

import (
	"chatkit/core"
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeMic struct {
	granted  bool
	clipSize int
	acquires atomic.Int32
	releases atomic.Int32
	openErr  error
	onOpen   func()
}

func (m *fakeMic) Name() string { return "fake" }

func (m *fakeMic) RequestPermission(context.Context) (bool, error) { return m.granted, nil }

func (m *fakeMic) Open(context.Context) (AudioStream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.acquires.Add(1)
	if m.onOpen != nil {
		m.onOpen()
	}
	return &fakeStream{mic: m}, nil
}

type fakeStream struct {
	mic *fakeMic
}

func (s *fakeStream) Stop() (core.AudioClip, error) {
	return core.AudioClip{Data: make([]byte, s.mic.clipSize), SampleRate: 16000, Channels: 1, Format: core.PCM}, nil
}

func (s *fakeStream) Close() error {
	s.mic.releases.Add(1)
	if s.mic.releases.Load() > s.mic.acquires.Load() {
		panic("release without acquire")
	}
	return nil
}

func newSession(mic *fakeMic) *AudioCaptureSession {
	return NewAudioCaptureSession(mic, DefaultConfig(), nil, core.NewNopLogger())
}

func TestStartStopAcquiresAndReleasesOnce(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRecording {
		t.Fatalf("state = %s", s.State())
	}
	clip, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.Duration().Milliseconds() != 100 {
		t.Fatalf("clip duration = %v", clip.Duration())
	}
	s.Release()

	if a, r := mic.acquires.Load(), mic.releases.Load(); a != 1 || r != 1 {
		t.Fatalf("acquires=%d releases=%d, want 1/1", a, r)
	}
	if s.State() != StateIdle {
		t.Fatalf("state after release = %s", s.State())
	}
}

func TestStartWhileRecordingIsBusy(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, core.ErrDeviceBusy) {
		t.Fatalf("second Start err = %v, want ErrDeviceBusy", err)
	}
	if mic.acquires.Load() != 1 {
		t.Fatalf("second Start must not acquire, acquires=%d", mic.acquires.Load())
	}
	s.Release()
}

func TestStartWhileTranscribingIsBusy(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)
	_ = s.Start(context.Background())
	if _, err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	s.MarkTranscribing()
	if err := s.Start(context.Background()); !errors.Is(err, core.ErrDeviceBusy) {
		t.Fatalf("err = %v, want ErrDeviceBusy", err)
	}
	s.Finish()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after Finish: %v", err)
	}
	s.Release()
}

func TestStartAfterStopBeforeFinishIsBusy(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)
	_ = s.Start(context.Background())
	if _, err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, core.ErrDeviceBusy) {
		t.Fatalf("err = %v, want ErrDeviceBusy", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
	if mic.acquires.Load() != 1 {
		t.Fatalf("acquires = %d, want 1", mic.acquires.Load())
	}
	s.Finish()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after Finish: %v", err)
	}
	s.Release()
}

func TestPermissionDeniedAcquiresNothing(t *testing.T) {
	mic := &fakeMic{granted: false}
	s := newSession(mic)
	if err := s.Start(context.Background()); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if mic.acquires.Load() != 0 || s.State() != StateIdle {
		t.Fatalf("acquires=%d state=%s", mic.acquires.Load(), s.State())
	}
}

func TestEmptyCaptureStillReleases(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 0}
	s := newSession(mic)
	_ = s.Start(context.Background())
	if _, err := s.Stop(); !errors.Is(err, core.ErrEmptyCapture) {
		t.Fatalf("err = %v, want ErrEmptyCapture", err)
	}
	if mic.releases.Load() != 1 || s.State() != StateIdle {
		t.Fatalf("releases=%d state=%s", mic.releases.Load(), s.State())
	}
}

func TestReleaseWhileRecordingDiscards(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)
	_ = s.Start(context.Background())
	s.Release()
	s.Release()
	if _, err := s.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop after Release err = %v", err)
	}
	if mic.acquires.Load() != 1 || mic.releases.Load() != 1 {
		t.Fatalf("acquires=%d releases=%d", mic.acquires.Load(), mic.releases.Load())
	}
}

func TestReleaseDuringAcquireClosesLateStream(t *testing.T) {
	mic := &fakeMic{granted: true, clipSize: 3200}
	s := newSession(mic)
	mic.onOpen = s.Release

	if err := s.Start(context.Background()); !errors.Is(err, ErrReleased) {
		t.Fatalf("err = %v, want ErrReleased", err)
	}
	if mic.acquires.Load() != 1 || mic.releases.Load() != 1 {
		t.Fatalf("acquires=%d releases=%d", mic.acquires.Load(), mic.releases.Load())
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

type fakePicker struct {
	granted bool
	ref     *core.ImageRef
}

func (p fakePicker) RequestPermission(context.Context) (bool, error) { return p.granted, nil }
func (p fakePicker) Pick(context.Context) (*core.ImageRef, error)    { return p.ref, nil }

func TestPickImage(t *testing.T) {
	if _, err := PickImage(context.Background(), fakePicker{granted: false}); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if _, err := PickImage(context.Background(), fakePicker{granted: true}); !errors.Is(err, ErrPickCancelled) {
		t.Fatalf("err = %v", err)
	}
	ref, err := PickImage(context.Background(), fakePicker{granted: true, ref: core.NewImageRef("img1.jpg")})
	if err != nil || ref.URI != "img1.jpg" {
		t.Fatalf("ref=%v err=%v", ref, err)
	}
}
