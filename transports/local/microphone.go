package local

import (
	"chatkit/core"
	"chatkit/handlers/capture"
	"chatkit/utils/audio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// FileMicrophone plays a WAV file back as if it had been recorded. It stands
// in for a hardware microphone on hosts without one.
type FileMicrophone struct {
	path   string
	logger *core.Logger

	mu   sync.Mutex
	open bool
}

func NewFileMicrophone(path string, logger *core.Logger) *FileMicrophone {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &FileMicrophone{
		path:   path,
		logger: logger.With(map[string]interface{}{"component": "file_microphone", "path": path}),
	}
}

func (m *FileMicrophone) Name() string {
	return "file:" + m.path
}

// RequestPermission grants access when the file can be read.
func (m *FileMicrophone) RequestPermission(ctx context.Context) (bool, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("microphone file not readable", "error", err)
			return false, nil
		}
		return false, err
	}
	f.Close()
	return true, nil
}

// Open reads the file and holds the device until the stream is closed.
func (m *FileMicrophone) Open(ctx context.Context) (capture.AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil, core.ErrDeviceBusy
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("local: read %q: %w", m.path, err)
	}
	info, payload, err := audio.ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("local: %q: %w", m.path, err)
	}
	m.open = true
	m.logger.Debug("microphone opened", "sample_rate", info.SampleRate, "channels", info.Channels)

	return &fileStream{
		mic: m,
		clip: core.AudioClip{
			Data:       payload,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			Format:     info.Format,
			Source:     m.Name(),
		},
	}, nil
}

func (m *FileMicrophone) release() {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
}

type fileStream struct {
	mic    *FileMicrophone
	clip   core.AudioClip
	closed sync.Once
}

func (s *fileStream) Stop() (core.AudioClip, error) {
	return s.clip, nil
}

func (s *fileStream) Close() error {
	s.closed.Do(s.mic.release)
	return nil
}
