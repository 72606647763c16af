package chat

import (
	"chatkit/core"
	"chatkit/handlers/capture"
	"chatkit/handlers/composer"
	"chatkit/handlers/conversation"
	"chatkit/handlers/stt"
	"chatkit/handlers/tts"
	"context"
	"errors"
	"fmt"
)

// Collaborators groups everything the chat needs from the outside world.
// Picker and Speech may be nil; the matching operations then fail.
type Collaborators struct {
	Model      core.ICompletionService
	Transcribe stt.ITranscriptionService
	Speech     tts.ISpeechEngine
	Microphone capture.Microphone
	Picker     capture.ImagePicker
	Classifier conversation.Classifier
}

var (
	ErrNoImagePicker = errors.New("chat: no image picker configured")
	ErrNoSpeech      = errors.New("chat: no speech engine configured")
)

// Chat is the surface a host UI drives. It ties capture, transcription,
// composition, the conversation and playback together.
type Chat struct {
	config  ChatConfig
	bus     *core.EventBus
	logger  *core.Logger
	picker  capture.ImagePicker
	pending *composer.PendingInput

	recorder     *capture.AudioCaptureSession
	transcriber  *stt.TranscriptionAdapter
	composer     *composer.TurnComposer
	orchestrator *conversation.Orchestrator
	playback     *tts.SpeechPlaybackController
}

func NewChat(deps Collaborators, config ChatConfig, bus *core.EventBus, logger *core.Logger) *Chat {
	if logger == nil {
		logger = core.GetLogger()
	}
	c := &Chat{
		config:  config,
		bus:     bus,
		logger:  logger.With(map[string]interface{}{"component": "chat"}),
		picker:  deps.Picker,
		pending: composer.NewPendingInput(),
	}
	if deps.Microphone != nil {
		c.recorder = capture.NewAudioCaptureSession(deps.Microphone, config.Capture, bus, logger)
	}
	if deps.Transcribe != nil {
		c.transcriber = stt.NewTranscriptionAdapter(deps.Transcribe, config.STT, bus, logger)
	}
	c.composer = composer.NewTurnComposer(logger)
	c.orchestrator = conversation.NewOrchestrator(deps.Model, deps.Classifier, config.Conversation, bus, logger)
	if deps.Speech != nil {
		c.playback = tts.NewSpeechPlaybackController(deps.Speech, c.orchestrator.Transcript(), config.TTS, bus, logger)
	}
	return c
}

// StartRecording acquires the microphone.
func (c *Chat) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return fmt.Errorf("chat: %w: no microphone configured", core.ErrPermissionDenied)
	}
	if err := c.recorder.Start(ctx); err != nil {
		return err
	}
	c.pending.SetStatus(composer.InputRecording)
	return nil
}

// StopRecording stops the microphone, transcribes the clip and appends the
// recognised text to the draft. On failure the draft is left as it was.
func (c *Chat) StopRecording(ctx context.Context) (string, error) {
	if c.recorder == nil {
		return "", capture.ErrNotRecording
	}
	clip, err := c.recorder.Stop()
	if err != nil {
		c.pending.SetStatus(composer.InputIdle)
		return "", err
	}
	defer c.pending.SetStatus(composer.InputIdle)
	defer c.recorder.Finish()

	if c.transcriber == nil {
		return "", fmt.Errorf("%w: no transcription service configured", core.ErrTranscriptionUnavailable)
	}
	c.recorder.MarkTranscribing()
	c.pending.SetStatus(composer.InputTranscribing)

	text, err := c.transcriber.Transcribe(ctx, clip)
	if err != nil {
		return "", err
	}
	c.pending.AppendDraft(text)
	return text, nil
}

// CancelRecording drops a live recording without transcribing it.
func (c *Chat) CancelRecording() {
	if c.recorder != nil {
		c.recorder.Release()
	}
	c.pending.SetStatus(composer.InputIdle)
}

func (c *Chat) SetDraft(text string) {
	c.pending.SetDraft(text)
}

func (c *Chat) StageImage(ref *core.ImageRef) {
	c.pending.StageImage(ref)
}

func (c *Chat) ClearImage() {
	c.pending.ClearImage()
}

// PickImage asks the picker for an image and stages it.
func (c *Chat) PickImage(ctx context.Context) (*core.ImageRef, error) {
	if c.picker == nil {
		return nil, ErrNoImagePicker
	}
	ref, err := capture.PickImage(ctx, c.picker)
	if err != nil {
		return nil, err
	}
	c.pending.StageImage(ref)
	return ref, nil
}

func (c *Chat) Pending() composer.PendingSnapshot {
	return c.pending.Snapshot()
}

// Send composes the pending input into a turn and submits it. Model
// failures come back as an apology reply with a nil error.
func (c *Chat) Send(ctx context.Context) (conversation.Result, error) {
	if c.orchestrator.Busy() {
		return conversation.Result{}, core.ErrSubmissionInProgress
	}
	turn, err := c.composer.Compose(c.pending)
	if err != nil {
		return conversation.Result{}, err
	}
	result, err := c.orchestrator.Submit(ctx, turn)
	if err != nil {
		c.restore(turn)
		return conversation.Result{}, err
	}

	if c.config.AutoSpeak && c.playback != nil {
		if _, err := c.playback.Toggle(ctx, result.Assistant.ID); err != nil {
			c.logger.Warn("auto speak failed", "turn_id", result.Assistant.ID, "error", err)
		}
	}
	return result, nil
}

// restore puts a rejected turn back unless the user already typed something
// new.
func (c *Chat) restore(turn core.Turn) {
	snap := c.pending.Snapshot()
	if snap.Draft == "" {
		c.pending.SetDraft(turn.Content)
	}
	if snap.Image == nil && turn.Image != nil {
		c.pending.StageImage(turn.Image)
	}
}

func (c *Chat) TogglePlayback(ctx context.Context, turnID string) (tts.PlaybackState, error) {
	if c.playback == nil {
		return tts.Silent, ErrNoSpeech
	}
	return c.playback.Toggle(ctx, turnID)
}

func (c *Chat) PlaybackState(turnID string) tts.PlaybackState {
	if c.playback == nil {
		return tts.Silent
	}
	return c.playback.State(turnID)
}

// Busy reports whether a Send is waiting on the model.
func (c *Chat) Busy() bool {
	return c.orchestrator.Busy()
}

func (c *Chat) Transcript() []core.Turn {
	return c.orchestrator.Transcript().Turns()
}

func (c *Chat) Bus() *core.EventBus {
	return c.bus
}

// Close releases the microphone and stops playback. The transcript is kept
// in memory until the Chat is dropped.
func (c *Chat) Close() {
	c.CancelRecording()
	if c.playback != nil {
		c.playback.StopAll()
	}
	c.logger.Info("chat closed", "turns", c.orchestrator.Transcript().Len())
}
