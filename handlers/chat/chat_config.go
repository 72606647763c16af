package chat

import (
	"chatkit/handlers/capture"
	"chatkit/handlers/conversation"
	"chatkit/handlers/stt"
	"chatkit/handlers/tts"
)

type ChatConfig struct {
	Capture      capture.CaptureConfig           `json:"capture"`
	STT          stt.STTConfig                   `json:"stt"`
	Conversation conversation.ConversationConfig `json:"conversation"`
	TTS          tts.TTSConfig                   `json:"tts"`
	// AutoSpeak starts playback of every new assistant reply.
	AutoSpeak bool `json:"auto_speak"`
}

// DefaultConfig returns a ChatConfig with sensible defaults.
func DefaultConfig() ChatConfig {
	return ChatConfig{
		Capture:      capture.DefaultConfig(),
		STT:          stt.DefaultConfig(),
		Conversation: conversation.DefaultConfig(),
		TTS:          tts.DefaultConfig(),
	}
}
