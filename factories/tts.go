package factories

import (
	"chatkit/core"
	ttshandler "chatkit/handlers/tts"
	cartesia "chatkit/services/cartesia/tts"
	deepgramtts "chatkit/services/deepgram/tts"
	elevenlabs "chatkit/services/elevenlabs/tts"
	openaitts "chatkit/services/openai/tts"
	"errors"
)

// TTSFactoryConfig holds provider-specific configs for speech synthesis.
// Set exactly one provider config; the rest should be left nil.
type TTSFactoryConfig struct {
	OpenAIConfig     *openaitts.Config               `json:"openai,omitempty"`
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
	DeepgramConfig   *deepgramtts.Config             `json:"deepgram,omitempty"`
	CartesiaConfig   *cartesia.CartesiaTTSConfig     `json:"cartesia,omitempty"`
}

// BuildSpeechSynthesizer constructs an ISpeechSynthesizer from the given
// factory config. Exactly one provider config must be non-nil.
func BuildSpeechSynthesizer(config TTSFactoryConfig, logger *core.Logger) (ttshandler.ISpeechSynthesizer, error) {
	if config.OpenAIConfig != nil {
		return openaitts.NewOpenAITTSService(*config.OpenAIConfig), nil
	}
	if config.ElevenLabsConfig != nil {
		return elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, logger), nil
	}
	if config.DeepgramConfig != nil {
		return deepgramtts.NewDeepgramTTS(*config.DeepgramConfig, logger), nil
	}
	if config.CartesiaConfig != nil {
		return cartesia.NewCartesiaTTS(*config.CartesiaConfig, logger), nil
	}
	return nil, errors.New("TTSFactoryConfig: no provider config specified")
}
