package factories

import (
	"chatkit/core"
	stthandler "chatkit/handlers/stt"
	deepgramstt "chatkit/services/deepgram/stt"
	openaistt "chatkit/services/openai/stt"
	"errors"
)

// STTFactoryConfig holds provider-specific configs for transcription.
// Set exactly one provider config; the rest should be left nil.
type STTFactoryConfig struct {
	WhisperConfig  *openaistt.Config           `json:"whisper,omitempty"`
	DeepgramConfig *deepgramstt.DeepgramConfig `json:"deepgram,omitempty"`
}

// BuildTranscriptionService constructs an ITranscriptionService from the
// given factory config. Exactly one provider config must be non-nil.
func BuildTranscriptionService(config STTFactoryConfig, logger *core.Logger) (stthandler.ITranscriptionService, error) {
	if config.WhisperConfig != nil {
		return openaistt.NewWhisperSTTService(*config.WhisperConfig), nil
	}
	if config.DeepgramConfig != nil {
		return deepgramstt.NewDeepgramSTTService(config.DeepgramConfig, logger), nil
	}
	return nil, errors.New("STTFactoryConfig: no provider config specified")
}
