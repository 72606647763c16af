package local

import (
	"chatkit/core"
	"chatkit/handlers/capture"
	"chatkit/utils/audio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeWAV(t *testing.T, frames, rate int) string {
	t.Helper()
	wav, err := audio.PCMBytesToWavBytes(make([]byte, frames*2), 1, rate)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, wav, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileMicrophoneRecordsFileOnce(t *testing.T) {
	mic := NewFileMicrophone(writeWAV(t, 1600, 16000), core.NewNopLogger())
	ok, err := mic.RequestPermission(context.Background())
	if err != nil || !ok {
		t.Fatalf("permission = %v, %v", ok, err)
	}

	stream, err := mic.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mic.Open(context.Background()); !errors.Is(err, core.ErrDeviceBusy) {
		t.Fatalf("second open err = %v", err)
	}
	clip, err := stream.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if clip.SampleRate != 16000 || clip.Format != core.PCM || len(clip.Data) != 3200 {
		t.Fatalf("clip = %d Hz %s %d bytes", clip.SampleRate, clip.Format, len(clip.Data))
	}
	_ = stream.Close()
	_ = stream.Close()

	again, err := mic.Open(context.Background())
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	_ = again.Close()
}

func TestFileMicrophoneWorksWithCaptureSession(t *testing.T) {
	mic := NewFileMicrophone(writeWAV(t, 8000, 16000), core.NewNopLogger())
	s := capture.NewAudioCaptureSession(mic, capture.DefaultConfig(), nil, core.NewNopLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	clip, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	s.Finish()
	if clip.Duration().Milliseconds() != 500 {
		t.Fatalf("duration = %v", clip.Duration())
	}
}

func TestFileMicrophoneMissingFileDenied(t *testing.T) {
	mic := NewFileMicrophone(filepath.Join(t.TempDir(), "none.wav"), core.NewNopLogger())
	ok, err := mic.RequestPermission(context.Background())
	if err != nil || ok {
		t.Fatalf("permission = %v, %v", ok, err)
	}
}

func TestFileImagePickerPicksOnce(t *testing.T) {
	p := NewFileImagePicker()
	if ref, _ := p.Pick(context.Background()); ref != nil {
		t.Fatal("nothing selected must pick nil")
	}
	p.Select("/tmp/engine.png")
	ref, err := p.Pick(context.Background())
	if err != nil || ref == nil {
		t.Fatalf("pick = %v, %v", ref, err)
	}
	if ref.Type() != core.LLMMediaTypeImagePNG {
		t.Fatalf("media type = %s", ref.Type())
	}
	if _, err := capture.PickImage(context.Background(), p); !errors.Is(err, capture.ErrPickCancelled) {
		t.Fatalf("second pick err = %v", err)
	}
}

func TestWavSinkWritesOneFilePerUtterance(t *testing.T) {
	dir := t.TempDir()
	factory := NewWavSinkFactory(dir, core.NewNopLogger())

	sink, err := factory("Chào bạn")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		data := make([]byte, 480)
		if err := sink.Write(core.AudioChunk{Data: &data, SampleRate: 24000, Channels: 1, Format: core.PCM}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 2)
	if err := sink.Write(core.AudioChunk{Data: &data, SampleRate: 24000, Channels: 1}); !errors.Is(err, errSinkClosed) {
		t.Fatalf("write after close err = %v", err)
	}

	path := sink.(*WavFileSink).Path()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	info, pcm, err := audio.ParseWAV(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.SampleRate != 24000 || len(pcm) != 1440 {
		t.Fatalf("wav = %d Hz, %d bytes", info.SampleRate, len(pcm))
	}

	empty, _ := factory("")
	_ = empty.Close()
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
}
