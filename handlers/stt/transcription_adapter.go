package stt

import (
	"chatkit/core"
	"chatkit/events/stt"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ITranscriptionService is the remote speech-to-text collaborator.
type ITranscriptionService interface {
	core.IService
	Transcribe(ctx context.Context, clip core.AudioClip, language string) (string, error)
}

// TranscriptionAdapter sends one finished clip for recognition. Every
// failure, timeouts included, surfaces as core.ErrTranscriptionUnavailable.
// Nothing is retried.
type TranscriptionAdapter struct {
	service ITranscriptionService
	config  STTConfig
	bus     *core.EventBus
	logger  *core.Logger
}

func NewTranscriptionAdapter(service ITranscriptionService, config STTConfig, bus *core.EventBus, logger *core.Logger) *TranscriptionAdapter {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxClipBytes <= 0 {
		config.MaxClipBytes = defaults.MaxClipBytes
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &TranscriptionAdapter{
		service: service,
		config:  config,
		bus:     bus,
		logger:  logger.With(map[string]interface{}{"component": "transcription"}),
	}
}

// Transcribe returns the recognised text. An empty string means no speech
// was detected and is not an error.
func (a *TranscriptionAdapter) Transcribe(ctx context.Context, clip core.AudioClip) (string, error) {
	if len(clip.Data) == 0 {
		return "", a.fail(errors.New("clip is empty"))
	}
	if len(clip.Data) > a.config.MaxClipBytes {
		return "", a.fail(fmt.Errorf("clip is %d bytes, limit %d", len(clip.Data), a.config.MaxClipBytes))
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	started := time.Now()
	text, err := a.service.Transcribe(ctx, clip, a.config.Language)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", a.fail(err)
	}

	text = strings.TrimSpace(text)
	a.logger.Info("clip transcribed", "latency_ms", time.Since(started).Milliseconds(), "chars", len(text))
	a.bus.Publish(&stt.TranscriptionCompletedEvent{Text: text}, "TranscriptionAdapter")
	return text, nil
}

func (a *TranscriptionAdapter) fail(cause error) error {
	a.logger.Warn("transcription unavailable", "error", cause)
	a.bus.Publish(&stt.TranscriptionFailedEvent{Error: cause.Error()}, "TranscriptionAdapter")
	return fmt.Errorf("%w: %v", core.ErrTranscriptionUnavailable, cause)
}
