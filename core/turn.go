package core

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message. Turns are values; once appended to a
// Transcript they are never changed.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Image     *ImageRef `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUserTurn(content string, image *ImageRef) Turn {
	return Turn{ID: uuid.New().String(), Role: RoleUser, Content: content, Image: image, CreatedAt: time.Now()}
}

func NewAssistantTurn(content string) Turn {
	return Turn{ID: uuid.New().String(), Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
}

// LLMRole maps the turn role onto the model's role vocabulary.
func (t Turn) LLMRole() LLMMessageRole {
	if t.Role == RoleAssistant {
		return LLMMessageRoleAssistant
	}
	return LLMMessageRoleUser
}

// ToLLMMessage converts the turn for dispatch. The image stays a reference
// until the model service loads it.
func (t Turn) ToLLMMessage() LLMMessage {
	msg := LLMMessage{Role: t.LLMRole(), Message: t.Content}
	if t.Image != nil {
		msg.Media = []LLMMedia{{Image: t.Image}}
	}
	return msg
}
