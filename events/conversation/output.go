package conversation

import "chatkit/core"

// TurnAppendedEvent is published once per turn, user turn first.
type TurnAppendedEvent struct {
	Turn  core.Turn `json:"turn"`
	Index int       `json:"index"`
}

func (e *TurnAppendedEvent) GetId() string {
	return "conversation.turn_appended"
}

// SubmissionFailedEvent records a model failure that was absorbed into an
// apology turn.
type SubmissionFailedEvent struct {
	TurnID string           `json:"turn_id"`
	Kind   core.FailureKind `json:"kind"`
	Error  string           `json:"error"`
}

func (e *SubmissionFailedEvent) GetId() string {
	return "conversation.submission_failed"
}

// CannedReplyEvent marks a turn answered by the pre-dispatch classifier.
type CannedReplyEvent struct {
	TurnID string `json:"turn_id"`
	Rule   string `json:"rule"`
}

func (e *CannedReplyEvent) GetId() string {
	return "conversation.canned_reply"
}
