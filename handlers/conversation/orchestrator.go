package conversation

import (
	"chatkit/core"
	conversationEvents "chatkit/events/conversation"
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// Result describes one finished submission. Failure is empty when the model
// answered; Canned is true when the classifier answered instead.
type Result struct {
	User      core.Turn
	Assistant core.Turn
	UserIndex int
	Failure   core.FailureKind
	Rule      string
	Canned    bool
}

// Orchestrator sends composed turns to the model and records each exchange.
// At most one submission is in flight at a time.
type Orchestrator struct {
	service    core.ICompletionService
	classifier Classifier
	config     ConversationConfig
	transcript *Transcript
	bus        *core.EventBus
	logger     *core.Logger
	inflight   atomic.Bool
}

// NewOrchestrator wires a completion service to a fresh transcript.
// classifier may be nil.
func NewOrchestrator(service core.ICompletionService, classifier Classifier, config ConversationConfig, bus *core.EventBus, logger *core.Logger) *Orchestrator {
	if logger == nil {
		logger = core.GetLogger()
	}
	defaults := DefaultConfig()
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.EmptyReply == "" {
		config.EmptyReply = defaults.EmptyReply
	}
	return &Orchestrator{
		service:    service,
		classifier: classifier,
		config:     config,
		transcript: NewTranscript(),
		bus:        bus,
		logger:     logger.With(map[string]interface{}{"component": "orchestrator"}),
	}
}

func (o *Orchestrator) Transcript() *Transcript {
	return o.transcript
}

// Busy reports whether a submission is waiting on the model.
func (o *Orchestrator) Busy() bool {
	return o.inflight.Load()
}

// Submit appends turn and exactly one assistant reply to the transcript.
// Model failures are turned into an apology reply and a nil error; only
// core.ErrSubmissionInProgress and core.ErrEmptyTurn are returned.
func (o *Orchestrator) Submit(ctx context.Context, turn core.Turn) (Result, error) {
	if turn.Role != core.RoleUser || (strings.TrimSpace(turn.Content) == "" && turn.Image == nil) {
		return Result{}, core.ErrEmptyTurn
	}
	if !o.inflight.CompareAndSwap(false, true) {
		return Result{}, core.ErrSubmissionInProgress
	}
	defer o.inflight.Store(false)

	result := Result{User: turn}

	if o.classifier != nil {
		if reply, rule, ok := o.classifier.Classify(turn); ok {
			o.logger.Info("answered locally", "turn_id", turn.ID, "rule", rule)
			result.Assistant = core.NewAssistantTurn(reply)
			result.Canned = true
			result.Rule = rule
			o.record(&result)
			o.bus.Publish(&conversationEvents.CannedReplyEvent{TurnID: turn.ID, Rule: rule}, "orchestrator")
			return result, nil
		}
	}

	reply, err := o.dispatch(ctx, turn)
	if err != nil {
		kind := core.ClassifyFailure(err)
		o.logger.Error("completion failed", "turn_id", turn.ID, "kind", string(kind), "error", err)
		result.Failure = kind
		result.Assistant = core.NewAssistantTurn(o.config.apologyFor(kind))
		o.record(&result)
		o.bus.Publish(&conversationEvents.SubmissionFailedEvent{TurnID: turn.ID, Kind: kind, Error: err.Error()}, "orchestrator")
		return result, nil
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		o.logger.Warn("model returned an empty reply", "turn_id", turn.ID)
		reply = o.config.EmptyReply
	}
	result.Assistant = core.NewAssistantTurn(reply)
	o.record(&result)
	return result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, turn core.Turn) (string, error) {
	if o.service == nil {
		return "", &core.CollaboratorError{Kind: core.FailureUnknown, Err: errors.New("no completion service configured")}
	}
	messages := append(o.transcript.history(), turn.ToLLMMessage())
	req := core.CompletionRequest{
		System:    o.config.SystemPrompt,
		Messages:  messages,
		MaxTokens: o.config.MaxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	o.logger.Debug("dispatching turn", "turn_id", turn.ID, "messages", len(messages), "has_image", turn.Image != nil)
	return o.service.Complete(ctx, req)
}

func (o *Orchestrator) record(result *Result) {
	result.UserIndex = o.transcript.appendExchange(result.User, result.Assistant)
	o.bus.Publish(&conversationEvents.TurnAppendedEvent{Turn: result.User, Index: result.UserIndex}, "orchestrator")
	o.bus.Publish(&conversationEvents.TurnAppendedEvent{Turn: result.Assistant, Index: result.UserIndex + 1}, "orchestrator")
}
