package conversation

import (
	"chatkit/core"
	"sync"
)

// Transcript is the ordered, append-only history. Only the orchestrator in
// this package can append, and only whole user/assistant pairs.
type Transcript struct {
	mu    sync.RWMutex
	turns []core.Turn
	index map[string]int
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[string]int)}
}

func (t *Transcript) appendExchange(user, assistant core.Turn) (userIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	userIndex = len(t.turns)
	t.index[user.ID] = userIndex
	t.turns = append(t.turns, user)
	t.index[assistant.ID] = userIndex + 1
	t.turns = append(t.turns, assistant)
	return userIndex
}

// Turns returns a copy in conversation order.
func (t *Transcript) Turns() []core.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

func (t *Transcript) Find(id string) (core.Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[id]
	if !ok {
		return core.Turn{}, false
	}
	return t.turns[i], true
}

// history replays past turns as text. Images are only sent with the turn
// they were attached to, so an image-only turn replays as a placeholder.
func (t *Transcript) history() []core.LLMMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msgs := make([]core.LLMMessage, 0, len(t.turns)+1)
	for _, turn := range t.turns {
		text := turn.Content
		if text == "" {
			text = core.ImagePlaceholder
		}
		msgs = append(msgs, core.LLMMessage{Role: turn.LLMRole(), Message: text})
	}
	return msgs
}
