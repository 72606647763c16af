package tts

import (
	"chatkit/core"
	ttsEvents "chatkit/events/tts"
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownTurn = errors.New("unknown assistant turn")

// Utterance is one playback started by an ISpeechEngine. Done delivers
// exactly one value: nil when playback ran to the end or was stopped, the
// failure otherwise. Stop must cause Done to deliver.
type Utterance interface {
	Done() <-chan error
	Stop()
}

// ISpeechEngine starts speaking text and returns without waiting for the
// utterance to finish.
type ISpeechEngine interface {
	core.IService
	Speak(ctx context.Context, text string, language string) (Utterance, error)
}

// TurnSource resolves turn IDs; *conversation.Transcript satisfies it.
type TurnSource interface {
	Find(id string) (core.Turn, bool)
}

type PlaybackState int

const (
	Silent PlaybackState = iota
	Speaking
)

func (s PlaybackState) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "silent"
}

// SpeechPlaybackController owns per-turn playback. At most one turn is
// Speaking at any time; every other turn is Silent.
type SpeechPlaybackController struct {
	engine ISpeechEngine
	turns  TurnSource
	config TTSConfig
	bus    *core.EventBus
	logger *core.Logger

	mu        sync.Mutex
	current   string
	utterance Utterance
	seq       uint64
}

func NewSpeechPlaybackController(engine ISpeechEngine, turns TurnSource, config TTSConfig, bus *core.EventBus, logger *core.Logger) *SpeechPlaybackController {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.Language == "" {
		config.Language = DefaultConfig().Language
	}
	return &SpeechPlaybackController{
		engine: engine,
		turns:  turns,
		config: config,
		bus:    bus,
		logger: logger.With(map[string]interface{}{"component": "playback"}),
	}
}

// Toggle flips turnID between Silent and Speaking and returns its new state.
// Starting a turn first stops whichever turn was speaking. A turn whose text
// normalizes to nothing stays Silent.
func (c *SpeechPlaybackController) Toggle(ctx context.Context, turnID string) (PlaybackState, error) {
	turn, ok := c.turns.Find(turnID)
	if !ok || turn.Role != core.RoleAssistant {
		return Silent, fmt.Errorf("tts: %w: %s", ErrUnknownTurn, turnID)
	}

	var events []core.IEvent
	defer func() {
		for _, e := range events {
			c.bus.Publish(e, "playback")
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == turnID {
		events = append(events, c.stopLocked())
		return Silent, nil
	}

	text := truncateRunes(normalizeTextForTTS(turn.Content), c.config.MaxChars)
	if text == "" {
		c.logger.Debug("nothing to speak", "turn_id", turnID)
		return Silent, nil
	}

	if c.current != "" {
		events = append(events, c.stopLocked())
	}

	// Playback outlives the caller's request.
	u, err := c.engine.Speak(context.WithoutCancel(ctx), text, c.config.Language)
	if err != nil {
		c.logger.Error("speech engine refused utterance", "turn_id", turnID, "error", err)
		events = append(events, &ttsEvents.SpeakingFailedEvent{TurnID: turnID, Error: err.Error()})
		return Silent, fmt.Errorf("tts: speak: %w", err)
	}

	c.seq++
	c.current = turnID
	c.utterance = u
	go c.watch(c.seq, turnID, u)

	c.logger.Info("speaking", "turn_id", turnID, "chars", len(text))
	events = append(events, &ttsEvents.SpeakingStartedEvent{TurnID: turnID})
	return Speaking, nil
}

// stopLocked silences the current turn. Callers hold c.mu.
func (c *SpeechPlaybackController) stopLocked() core.IEvent {
	turnID, u := c.current, c.utterance
	c.seq++
	c.current = ""
	c.utterance = nil
	if u != nil {
		u.Stop()
	}
	c.logger.Debug("playback stopped", "turn_id", turnID)
	return &ttsEvents.SpeakingEndedEvent{TurnID: turnID, Stopped: true}
}

// watch returns the turn to Silent when its utterance ends on its own. A
// stale utterance that was already replaced or stopped is ignored.
func (c *SpeechPlaybackController) watch(seq uint64, turnID string, u Utterance) {
	err := <-u.Done()

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return
	}
	c.current = ""
	c.utterance = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("playback failed", "turn_id", turnID, "error", err)
		c.bus.Publish(&ttsEvents.SpeakingFailedEvent{TurnID: turnID, Error: err.Error()}, "playback")
		return
	}
	c.bus.Publish(&ttsEvents.SpeakingEndedEvent{TurnID: turnID}, "playback")
}

func (c *SpeechPlaybackController) State(turnID string) PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID != "" && c.current == turnID {
		return Speaking
	}
	return Silent
}

// Speaking returns the turn currently being spoken, if any.
func (c *SpeechPlaybackController) Speaking() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}

// StopAll silences whatever is playing. It is safe to call when idle.
func (c *SpeechPlaybackController) StopAll() {
	c.mu.Lock()
	if c.current == "" {
		c.mu.Unlock()
		return
	}
	e := c.stopLocked()
	c.mu.Unlock()
	c.bus.Publish(e, "playback")
}
