package conversation

import (
	"chatkit/core"
	"time"
)

type ConversationConfig struct {
	SystemPrompt string        `json:"system_prompt"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
	// EmptyReply replaces a successful but blank model answer.
	EmptyReply string `json:"empty_reply"`
	// Apologies picks the synthetic assistant reply per failure kind.
	// FailureUnknown is the fallback for kinds without an entry.
	Apologies map[core.FailureKind]string `json:"apologies"`
}

func DefaultConfig() ConversationConfig {
	return ConversationConfig{
		SystemPrompt: DensoExpertPrompt,
		MaxTokens:    300,
		Timeout:      60 * time.Second,
		EmptyReply:   EmptyReplyMessage,
		Apologies: map[core.FailureKind]string{
			core.FailureUnknown:     GenericApology,
			core.FailureRateLimited: RateLimitedApology,
			core.FailureTimeout:     TimeoutApology,
		},
	}
}

// apologyFor never returns an empty string.
func (c ConversationConfig) apologyFor(kind core.FailureKind) string {
	if msg, ok := c.Apologies[kind]; ok && msg != "" {
		return msg
	}
	if msg, ok := c.Apologies[core.FailureUnknown]; ok && msg != "" {
		return msg
	}
	return GenericApology
}
