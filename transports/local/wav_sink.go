package local

import (
	"bytes"
	"chatkit/core"
	"chatkit/handlers/tts"
	"chatkit/utils/audio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var errSinkClosed = errors.New("local: sink closed")

// WavFileSink collects one utterance and writes it to a WAV file on Close.
type WavFileSink struct {
	path   string
	logger *core.Logger

	mu         sync.Mutex
	buf        bytes.Buffer
	sampleRate int
	channels   int
	closed     bool
}

// NewWavSinkFactory returns a factory writing each utterance to
// <dir>/<uuid>.wav.
func NewWavSinkFactory(dir string, logger *core.Logger) tts.SinkFactory {
	if logger == nil {
		logger = core.GetLogger()
	}
	logger = logger.With(map[string]interface{}{"component": "wav_sink"})
	return func(text string) (tts.AudioSink, error) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("local: mkdir %q: %w", dir, err)
		}
		return &WavFileSink{
			path:   filepath.Join(dir, uuid.New().String()+".wav"),
			logger: logger,
		}, nil
	}
}

func (s *WavFileSink) Path() string {
	return s.path
}

// Write appends the chunk as 16-bit PCM. The first chunk fixes the format.
func (s *WavFileSink) Write(chunk core.AudioChunk) error {
	if chunk.Data == nil || len(*chunk.Data) == 0 {
		return nil
	}
	channels := chunk.Channels
	if channels <= 0 {
		channels = 1
	}
	chunk.Channels = channels

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if s.sampleRate == 0 {
		s.sampleRate = chunk.SampleRate
		s.channels = channels
	}
	converted, err := audio.ChunkToPCM(chunk, s.channels, s.sampleRate)
	if err != nil {
		return fmt.Errorf("local: %w", err)
	}
	s.buf.Write(*converted.Data)
	return nil
}

// Close writes the file. An utterance without audio leaves no file behind.
func (s *WavFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.buf.Len() == 0 {
		return nil
	}
	wav, err := audio.PCMBytesToWavBytes(s.buf.Bytes(), s.channels, s.sampleRate)
	if err != nil {
		return fmt.Errorf("local: %w", err)
	}
	if err := os.WriteFile(s.path, wav, 0644); err != nil {
		return fmt.Errorf("local: write %q: %w", s.path, err)
	}
	s.logger.Info("utterance written", "path", s.path, "bytes", len(wav))
	return nil
}
