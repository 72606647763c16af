package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type captured struct {
	level string
	msg   string
	attrs map[string]interface{}
}

func newCapturingLogger(out *[]captured) *Logger {
	return NewLogger(func(level, msg string, attrs map[string]interface{}) {
		*out = append(*out, captured{level: level, msg: msg, attrs: attrs})
	})
}

func TestLoggerKeyValueArgsBecomeAttrs(t *testing.T) {
	var lines []captured
	l := newCapturingLogger(&lines).With(map[string]interface{}{"component": "test"})

	l.Info("turn appended", "turn_id", "t1", "role", "user")

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got.level != "INFO" || got.msg != "turn appended" {
		t.Fatalf("unexpected line: %+v", got)
	}
	if got.attrs["component"] != "test" || got.attrs["turn_id"] != "t1" || got.attrs["role"] != "user" {
		t.Fatalf("unexpected attrs: %v", got.attrs)
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var lines []captured
	l := newCapturingLogger(&lines)
	l.Infof("took %d ms", 12)
	if lines[0].msg != "took 12 ms" {
		t.Fatalf("got %q", lines[0].msg)
	}
}

func TestLoggerLevelThreshold(t *testing.T) {
	var lines []captured
	l := newCapturingLogger(&lines)
	l.minLevel = LevelWarn

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.With(map[string]interface{}{"k": "v"}).Info("still hidden")

	if len(lines) != 1 || lines[0].msg != "shown" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, " WARN ": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClassifyFailure(t *testing.T) {
	if got := ClassifyFailure(NewCollaboratorError(429, errors.New("slow down"))); got != FailureRateLimited {
		t.Fatalf("got %s", got)
	}
	wrapped := fmt.Errorf("llm: %w", context.DeadlineExceeded)
	if got := ClassifyFailure(wrapped); got != FailureTimeout {
		t.Fatalf("got %s", got)
	}
	if got := ClassifyFailure(errors.New("boom")); got != FailureUnknown {
		t.Fatalf("got %s", got)
	}
	if !errors.Is(NewCollaboratorError(500, errors.New("x")), ErrCollaboratorFailure) {
		t.Fatal("collaborator error should match ErrCollaboratorFailure")
	}
}

func TestAudioClipDuration(t *testing.T) {
	pcm := AudioClip{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1, Format: PCM}
	if d := pcm.Duration(); d != time.Second {
		t.Fatalf("pcm duration = %v", d)
	}
	ulaw := AudioClip{Data: make([]byte, 8000), SampleRate: 8000, Channels: 1, Format: ULAW}
	if d := ulaw.Duration(); d != time.Second {
		t.Fatalf("ulaw duration = %v", d)
	}
	headerOnly := AudioClip{Data: make([]byte, 44), SampleRate: 16000, Channels: 1, Format: WAV}
	if d := headerOnly.Duration(); d != 0 {
		t.Fatalf("header-only wav duration = %v", d)
	}
}

func TestImageRefLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img1.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}

	ref := NewImageRef("file://" + path)
	if ref.Type() != LLMMediaTypeImagePNG {
		t.Fatalf("media type = %s", ref.Type())
	}
	data, err := ref.Load()
	if err != nil || len(data) != 4 {
		t.Fatalf("Load() = %v, %v", data, err)
	}

	missing := NewImageRef(filepath.Join(dir, "nope.jpg"))
	if _, err := missing.Load(); !errors.Is(err, ErrImageUnavailable) {
		t.Fatalf("expected ErrImageUnavailable, got %v", err)
	}
}

type pingEvent struct{ N int }

func (e *pingEvent) GetId() string { return "test.ping" }

func TestEventBusDeliversInOrderAndSurvivesPanics(t *testing.T) {
	bus := NewEventBus(NewNopLogger())
	var got []int
	bus.Subscribe("a-panics", func(*EventPacket) { panic("bad subscriber") })
	unsubscribe := bus.Subscribe("b-records", func(p *EventPacket) {
		got = append(got, p.Event.(*pingEvent).N)
		if p.Uid == "" || p.Relayer != "test" {
			t.Errorf("packet missing metadata: %+v", p)
		}
	})

	bus.Publish(&pingEvent{N: 1}, "test")
	bus.Publish(&pingEvent{N: 2}, "test")
	unsubscribe()
	bus.Publish(&pingEvent{N: 3}, "test")

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected deliveries: %v", got)
	}

	var nilBus *EventBus
	nilBus.Publish(&pingEvent{}, "test")
}

func TestSessionLogWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, SessionMetadata{SessionID: "s1", Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.active")); err != nil {
		t.Fatalf("active marker missing: %v", err)
	}

	logger := NewSessionLogger(NewNopLogger(), w)
	logger.Warn("transcription failed", "error", errors.New("timeout"))
	w.Close()

	data, err := os.ReadFile(filepath.Join(dir, "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected metadata + 1 entry, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], `"session_id":"s1"`) {
		t.Fatalf("bad metadata line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"error":"timeout"`) || !strings.Contains(lines[1], `"level":"WARN"`) {
		t.Fatalf("bad entry line: %s", lines[1])
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.active")); !os.IsNotExist(err) {
		t.Fatalf("active marker should be removed, stat err = %v", err)
	}
}
