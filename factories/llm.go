package factories

import (
	"chatkit/core"
	geminillm "chatkit/services/gemini/llm"
	openaillm "chatkit/services/openai/llm"
	"errors"
)

// LLMFactoryConfig holds provider-specific configs for the model service.
// Set exactly one provider config; the rest should be left nil.
// OpenRouter, Together and xAI speak the OpenAI protocol and run on the
// OpenAI service with their own base URL. Every default model accepts images.
type LLMFactoryConfig struct {
	OpenAIConfig     *openaillm.Config `json:"openai,omitempty"`
	GeminiConfig     *geminillm.Config `json:"gemini,omitempty"`
	OpenRouterConfig *openaillm.Config `json:"openrouter,omitempty"`
	TogetherConfig   *openaillm.Config `json:"together,omitempty"`
	XAIConfig        *openaillm.Config `json:"xai,omitempty"`
}

const (
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	togetherBaseURL   = "https://api.together.xyz/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
)

// BuildCompletionService constructs the model service from the given config.
// Exactly one provider config must be non-nil.
func BuildCompletionService(config LLMFactoryConfig) (core.ICompletionService, error) {
	if config.OpenAIConfig != nil {
		return openaillm.NewOpenAILLMService(*config.OpenAIConfig), nil
	}
	if config.GeminiConfig != nil {
		return geminillm.NewGeminiLLMService(*config.GeminiConfig), nil
	}
	if config.OpenRouterConfig != nil {
		return buildOpenAICompatible(*config.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o"), nil
	}
	if config.TogetherConfig != nil {
		return buildOpenAICompatible(*config.TogetherConfig, togetherBaseURL, "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8"), nil
	}
	if config.XAIConfig != nil {
		return buildOpenAICompatible(*config.XAIConfig, xaiBaseURL, "grok-2-vision-1212"), nil
	}
	return nil, errors.New("LLMFactoryConfig: no provider config specified")
}

// buildOpenAICompatible applies the provider's base URL and model unless the
// config sets them.
func buildOpenAICompatible(cfg openaillm.Config, defaultBaseURL, defaultModel string) *openaillm.OpenAILLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return openaillm.NewOpenAILLMService(cfg)
}
