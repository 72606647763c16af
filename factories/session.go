package factories

import (
	"chatkit/core"
	"chatkit/handlers/capture"
	"chatkit/handlers/chat"
	"chatkit/handlers/conversation"
	stthandler "chatkit/handlers/stt"
	ttshandler "chatkit/handlers/tts"
	openaillm "chatkit/services/openai/llm"
	openaistt "chatkit/services/openai/stt"
	openaitts "chatkit/services/openai/tts"
	"chatkit/utils/text"
	"fmt"

	"github.com/bytedance/sonic"
)

// SessionConfig is the complete configuration of one chat: component
// behaviour plus the provider behind each remote collaborator.
type SessionConfig struct {
	Chat chat.ChatConfig  `json:"chat"`
	LLM  LLMFactoryConfig `json:"llm"`
	STT  STTFactoryConfig `json:"stt"`
	TTS  TTSFactoryConfig `json:"tts"`
	// PhraseRules are answered without calling the model. An empty list
	// turns the classifier off.
	PhraseRules []conversation.PhraseRule `json:"phrase_rules"`
}

// DefaultSessionConfig returns component defaults and the built-in phrase
// rules. Providers are left unset so that JSON can pick any of them;
// ApplyDefaultProviders fills in OpenAI for whatever stays empty.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Chat:        chat.DefaultConfig(),
		PhraseRules: append([]conversation.PhraseRule(nil), conversation.DefaultPhraseRules...),
	}
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig, starting
// from DefaultSessionConfig so that absent fields keep their defaults.
// API keys should be injected afterwards rather than stored in files.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	cfg.ApplyDefaultProviders()
	return cfg, nil
}

// ApplyDefaultProviders selects OpenAI for every collaborator without a
// configured provider, the same account serving model, Whisper and speech.
func (c *SessionConfig) ApplyDefaultProviders() {
	if c.LLM == (LLMFactoryConfig{}) {
		c.LLM.OpenAIConfig = &openaillm.Config{}
	}
	if c.STT == (STTFactoryConfig{}) {
		c.STT.WhisperConfig = &openaistt.Config{}
	}
	if c.TTS == (TTSFactoryConfig{}) {
		c.TTS.OpenAIConfig = &openaitts.Config{}
	}
}

// APIKeys holds credentials for every supported provider. Pass to
// SessionConfig.InjectAPIKeys after loading so secrets stay out of files.
type APIKeys struct {
	OpenAI     string // Model, Whisper and OpenAI speech.
	Gemini     string
	OpenRouter string
	Together   string
	XAI        string
	Deepgram   string // Deepgram transcription and speech.
	ElevenLabs string // ElevenLabs speech.
	Cartesia   string
}

// InjectAPIKeys fills empty API keys of the configured providers.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	setKey := func(dst *string, key string) {
		if *dst == "" {
			*dst = key
		}
	}

	if cfg := c.LLM.OpenAIConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.OpenAI)
	}
	if cfg := c.LLM.GeminiConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.Gemini)
	}
	if cfg := c.LLM.OpenRouterConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.OpenRouter)
	}
	if cfg := c.LLM.TogetherConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.Together)
	}
	if cfg := c.LLM.XAIConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.XAI)
	}

	if cfg := c.STT.WhisperConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.OpenAI)
	}
	if cfg := c.STT.DeepgramConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.Deepgram)
	}

	if cfg := c.TTS.OpenAIConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.OpenAI)
	}
	if cfg := c.TTS.ElevenLabsConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.ElevenLabs)
	}
	if cfg := c.TTS.DeepgramConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.Deepgram)
	}
	if cfg := c.TTS.CartesiaConfig; cfg != nil {
		setKey(&cfg.APIKey, keys.Cartesia)
	}
}

// SessionServices holds the constructed remote collaborators.
type SessionServices struct {
	Model      core.ICompletionService
	Transcribe stthandler.ITranscriptionService
	Synth      ttshandler.ISpeechSynthesizer
}

// Lifecycle lists the services in initialization order.
func (s *SessionServices) Lifecycle() []core.IService {
	return []core.IService{s.Model, s.Transcribe, s.Synth}
}

// BuildServices constructs every collaborator described by the config.
func (c SessionConfig) BuildServices(logger *core.Logger) (*SessionServices, error) {
	model, err := BuildCompletionService(c.LLM)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	transcribe, err := BuildTranscriptionService(c.STT, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	synth, err := BuildSpeechSynthesizer(c.TTS, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &SessionServices{Model: model, Transcribe: transcribe, Synth: synth}, nil
}

// Devices are the host-side collaborators. Any of them may be nil; the
// matching chat operations then fail. Without Sinks nothing is spoken.
type Devices struct {
	Microphone capture.Microphone
	Picker     capture.ImagePicker
	Sinks      ttshandler.SinkFactory
}

// BuildChat wires services and devices into a Chat.
func (c SessionConfig) BuildChat(services *SessionServices, devices Devices, bus *core.EventBus, logger *core.Logger) *chat.Chat {
	deps := chat.Collaborators{
		Model:      services.Model,
		Transcribe: services.Transcribe,
		Microphone: devices.Microphone,
		Picker:     devices.Picker,
		Classifier: c.classifier(),
	}
	if devices.Sinks != nil {
		deps.Speech = ttshandler.NewSynthesisEngine(services.Synth, devices.Sinks, logger)
	}
	return chat.NewChat(deps, c.Chat, bus, logger)
}

func (c SessionConfig) classifier() conversation.Classifier {
	if len(c.PhraseRules) == 0 {
		return nil
	}
	return conversation.NewPhraseClassifier(text.Language(c.Chat.STT.Language), c.PhraseRules)
}
