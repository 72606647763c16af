package llm

import (
	"chatkit/core"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GeminiLLMService implements core.ICompletionService with the Gemini
// generateContent API.
type GeminiLLMService struct {
	client      *genai.Client
	config      Config
	mu          sync.RWMutex
	initialized bool
}

type Config struct {
	APIKey      string       `json:"api_key,omitempty"`
	Model       string       `json:"model,omitempty"`       // Defaults to gemini-2.5-flash.
	BaseURL     string       `json:"base_url,omitempty"`    // Optional endpoint override.
	Temperature float32      `json:"temperature,omitempty"`
	HTTPClient  *http.Client `json:"-"`
}

func NewGeminiLLMService(config Config) *GeminiLLMService {
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	return &GeminiLLMService{config: config}
}

func (s *GeminiLLMService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     s.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.config.HTTPClient,
	}
	if s.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: s.config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return fmt.Errorf("creating Gemini client: %w", err)
	}
	s.client = client
	s.initialized = true
	return nil
}

func (s *GeminiLLMService) Cleanup() error {
	s.mu.Lock()
	s.client = nil
	s.initialized = false
	s.mu.Unlock()
	return nil
}

func (s *GeminiLLMService) Reset() error {
	return nil
}

// Complete sends the preamble as system instruction and every message as
// content; images become inline data parts.
func (s *GeminiLLMService) Complete(ctx context.Context, request core.CompletionRequest) (string, error) {
	s.mu.RLock()
	client, ok := s.client, s.initialized
	s.mu.RUnlock()
	if !ok {
		return "", &core.CollaboratorError{Kind: core.FailureUnknown, Err: errors.New("Gemini service not initialized")}
	}

	contents := make([]*genai.Content, 0, len(request.Messages))
	for _, m := range request.Messages {
		content, err := convertMessage(m)
		if err != nil {
			return "", &core.CollaboratorError{Kind: core.FailureMalformed, Err: err}
		}
		contents = append(contents, content)
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(request.MaxTokens),
	}
	if request.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}
	if s.config.Temperature > 0 {
		temp := s.config.Temperature
		cfg.Temperature = &temp
	}

	res, err := client.Models.GenerateContent(ctx, s.config.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return "", core.NewCollaboratorError(apiErr.Code, fmt.Errorf("gemini generate content: %w", err))
		}
		return "", &core.CollaboratorError{Kind: core.ClassifyFailure(err), Err: fmt.Errorf("gemini generate content: %w", err)}
	}
	return res.Text(), nil
}

func convertMessage(m core.LLMMessage) (*genai.Content, error) {
	role := genai.Role(genai.RoleUser)
	if m.Role == core.LLMMessageRoleAssistant {
		role = genai.RoleModel
	}
	if !m.HasMedia() {
		return genai.NewContentFromText(m.TextOrPlaceholder(), role), nil
	}

	parts := make([]*genai.Part, 0, len(m.Media)+1)
	if m.Message != "" {
		parts = append(parts, genai.NewPartFromText(m.Message))
	}
	for _, media := range m.Media {
		if media.Image == nil {
			continue
		}
		data, err := media.Image.Load()
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.NewPartFromBytes(data, string(media.Image.Type())))
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(core.ImagePlaceholder))
	}
	return genai.NewContentFromParts(parts, role), nil
}
