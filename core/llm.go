package core

import "context"

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
)

type LLMMediaType string

const (
	LLMMediaTypeImagePNG  LLMMediaType = "image/png"
	LLMMediaTypeImageJPEG LLMMediaType = "image/jpeg"
	LLMMediaTypeImageWEBP LLMMediaType = "image/webp"
)

// LLMMedia is a lazily loaded attachment. Services call Image.Load() while
// building the request, never earlier.
type LLMMedia struct {
	Image *ImageRef
}

// LLMMessage represents a message exchanged with the LLM.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`            // Role of the message sender (user or assistant).
	Message string         `json:"message"`         // Content of the message.
	Media   []LLMMedia     `json:"media,omitempty"` // Attachments; nil when the turn is text only.
}

// HasMedia reports whether the message must be sent as multi-part content.
func (m LLMMessage) HasMedia() bool {
	return len(m.Media) > 0
}

// ImagePlaceholder stands in for the text of an image-only turn once its
// image is no longer sent. Model APIs reject messages with no content.
const ImagePlaceholder = "[hình ảnh]"

// TextOrPlaceholder returns the message text, or ImagePlaceholder when a
// text-only message would otherwise be empty.
func (m LLMMessage) TextOrPlaceholder() string {
	if m.Message == "" && !m.HasMedia() {
		return ImagePlaceholder
	}
	return m.Message
}

// CompletionRequest is everything a model collaborator needs for one reply.
type CompletionRequest struct {
	System    string       // Fixed preamble, always sent first.
	Messages  []LLMMessage // Transcript replay followed by the new user turn.
	MaxTokens int          // Response length cap.
}

// ICompletionService is the remote model collaborator.
type ICompletionService interface {
	IService
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
