package composer

import (
	"chatkit/core"
	"strings"
	"sync"
)

type InputStatus int

const (
	InputIdle InputStatus = iota
	InputRecording
	InputTranscribing
)

func (s InputStatus) String() string {
	switch s {
	case InputRecording:
		return "recording"
	case InputTranscribing:
		return "transcribing"
	default:
		return "idle"
	}
}

// PendingInput is the staging area for the next user turn: draft text, at
// most one image and the voice input status.
type PendingInput struct {
	mu     sync.Mutex
	draft  string
	image  *core.ImageRef
	status InputStatus
}

func NewPendingInput() *PendingInput {
	return &PendingInput{}
}

// PendingSnapshot is a read-only copy of PendingInput.
type PendingSnapshot struct {
	Draft  string
	Image  *core.ImageRef
	Status InputStatus
}

func (p *PendingInput) SetDraft(text string) {
	p.mu.Lock()
	p.draft = text
	p.mu.Unlock()
}

// AppendDraft adds recognised speech to whatever was typed so far.
func (p *PendingInput) AppendDraft(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(p.draft) == "" {
		p.draft = text
		return
	}
	p.draft = strings.TrimRight(p.draft, " ") + " " + text
}

// StageImage replaces any previously staged image.
func (p *PendingInput) StageImage(ref *core.ImageRef) {
	p.mu.Lock()
	p.image = ref
	p.mu.Unlock()
}

func (p *PendingInput) ClearImage() {
	p.StageImage(nil)
}

func (p *PendingInput) SetStatus(status InputStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

func (p *PendingInput) Snapshot() PendingSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PendingSnapshot{Draft: p.draft, Image: p.image, Status: p.status}
}

// TurnComposer turns the staged input into one user turn.
type TurnComposer struct {
	logger *core.Logger
}

func NewTurnComposer(logger *core.Logger) *TurnComposer {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &TurnComposer{logger: logger.With(map[string]interface{}{"component": "composer"})}
}

// Compose builds the turn and clears draft and image in the same critical
// section, so an edit made after Compose lands in the next turn only.
// On core.ErrEmptyTurn the pending input is left as it was.
func (c *TurnComposer) Compose(p *PendingInput) (core.Turn, error) {
	p.mu.Lock()
	content := strings.TrimSpace(p.draft)
	image := p.image
	if content == "" && image == nil {
		p.mu.Unlock()
		return core.Turn{}, core.ErrEmptyTurn
	}
	p.draft = ""
	p.image = nil
	p.mu.Unlock()

	turn := core.NewUserTurn(content, image)
	c.logger.Debug("turn composed", "turn_id", turn.ID, "chars", len(content), "has_image", image != nil)
	return turn, nil
}
