package tts

import (
	"chatkit/core"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ISpeechSynthesizer turns text into audio. Implementations write chunks to
// out and return when synthesis is complete or ctx is done; they never close
// out.
type ISpeechSynthesizer interface {
	core.IService
	Synthesize(ctx context.Context, text string, language string, out chan<- core.AudioChunk) error
}

// AudioSink receives the audio of a single utterance. Close marks the end of
// the utterance.
type AudioSink interface {
	Write(chunk core.AudioChunk) error
	Close() error
}

// SinkFactory opens a sink for the next utterance.
type SinkFactory func(text string) (AudioSink, error)

// SynthesisEngine adapts a streaming synthesizer and an audio sink into an
// ISpeechEngine.
type SynthesisEngine struct {
	synth  ISpeechSynthesizer
	sinks  SinkFactory
	logger *core.Logger
}

func NewSynthesisEngine(synth ISpeechSynthesizer, sinks SinkFactory, logger *core.Logger) *SynthesisEngine {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &SynthesisEngine{
		synth:  synth,
		sinks:  sinks,
		logger: logger.With(map[string]interface{}{"component": "synthesis_engine"}),
	}
}

func (e *SynthesisEngine) Initialize(ctx context.Context) error {
	return e.synth.Initialize(ctx)
}

func (e *SynthesisEngine) Cleanup() error {
	return e.synth.Cleanup()
}

func (e *SynthesisEngine) Reset() error {
	return e.synth.Reset()
}

func (e *SynthesisEngine) Speak(ctx context.Context, text string, language string) (Utterance, error) {
	sink, err := e.sinks(text)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	u := &streamUtterance{cancel: cancel, done: make(chan error, 1)}
	go u.run(ctx, e.synth, sink, text, language, e.logger)
	return u, nil
}

type streamUtterance struct {
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
	stopped atomic.Bool
}

func (u *streamUtterance) Done() <-chan error {
	return u.done
}

func (u *streamUtterance) Stop() {
	u.stopped.Store(true)
	u.cancel()
}

func (u *streamUtterance) finish(err error) {
	u.once.Do(func() {
		u.done <- err
		close(u.done)
	})
}

func (u *streamUtterance) run(ctx context.Context, synth ISpeechSynthesizer, sink AudioSink, text, language string, logger *core.Logger) {
	defer u.cancel()

	out := make(chan core.AudioChunk, 16)
	synthErr := make(chan error, 1)
	go func() {
		synthErr <- synth.Synthesize(ctx, text, language, out)
		close(out)
	}()

	var writeErr error
	chunks := 0
	for chunk := range out {
		if writeErr != nil {
			continue
		}
		if writeErr = sink.Write(chunk); writeErr != nil {
			u.cancel()
			continue
		}
		chunks++
	}
	err := <-synthErr
	closeErr := sink.Close()

	logger.Debug("utterance finished", "chunks", chunks, "stopped", u.stopped.Load())
	if u.stopped.Load() {
		u.finish(nil)
		return
	}
	switch {
	case writeErr != nil:
		u.finish(fmt.Errorf("sink write: %w", writeErr))
	case err != nil && !errors.Is(err, context.Canceled):
		u.finish(fmt.Errorf("synthesize: %w", err))
	case closeErr != nil:
		u.finish(fmt.Errorf("sink close: %w", closeErr))
	default:
		u.finish(nil)
	}
}
