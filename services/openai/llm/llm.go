package llm

import (
	"chatkit/core"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// OpenAILLMService implements core.ICompletionService on the OpenAI chat
// completions API, or any server that speaks it.
type OpenAILLMService struct {
	client      *openai.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	streaming   bool
	verify      bool
	httpClient  *http.Client

	// Service state
	isInitialized bool
	mu            sync.RWMutex
}

// Config holds the configuration for OpenAI service
type Config struct {
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`    // Optional, for OpenAI-compatible providers.
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Streaming   bool    `json:"streaming,omitempty"`
	// VerifyOnInit lists models during Initialize to fail fast on a bad key.
	VerifyOnInit bool         `json:"verify_on_init,omitempty"`
	HTTPClient   *http.Client `json:"-"`
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config) *OpenAILLMService {
	model := config.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAILLMService{
		apiKey:      config.APIKey,
		baseURL:     config.BaseURL,
		model:       model,
		temperature: config.Temperature,
		streaming:   config.Streaming,
		verify:      config.VerifyOnInit,
		httpClient:  config.HTTPClient,
	}
}

// Initialize creates the API client
func (s *OpenAILLMService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	s.client = s.newClient()

	if s.verify {
		if _, err := s.client.ListModels(ctx); err != nil {
			s.client = nil
			return fmt.Errorf("failed to connect to OpenAI: %w", err)
		}
	}

	s.isInitialized = true
	return nil
}

func (s *OpenAILLMService) newClient() *openai.Client {
	cfg := openai.DefaultConfig(s.apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	if s.httpClient != nil {
		cfg.HTTPClient = s.httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// Cleanup performs cleanup operations
func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.isInitialized = false
	return nil
}

// Reset recreates the client with the same config
func (s *OpenAILLMService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isInitialized {
		s.client = s.newClient()
	}
	return nil
}

// Complete sends the request and returns the full reply text. Failures are
// returned as *core.CollaboratorError.
func (s *OpenAILLMService) Complete(ctx context.Context, request core.CompletionRequest) (string, error) {
	s.mu.RLock()
	client := s.client
	initialized := s.isInitialized
	s.mu.RUnlock()
	if !initialized {
		return "", &core.CollaboratorError{Kind: core.FailureUnknown, Err: errors.New("OpenAI service not initialized")}
	}

	messages, err := s.convertMessages(request)
	if err != nil {
		return "", &core.CollaboratorError{Kind: core.FailureMalformed, Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   request.MaxTokens,
		Temperature: s.temperature,
	}

	if s.streaming {
		return s.runStreamingCompletion(ctx, client, req)
	}
	return s.runNonStreamingCompletion(ctx, client, req)
}

// runStreamingCompletion accumulates streamed deltas into one reply
func (s *OpenAILLMService) runStreamingCompletion(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = true
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", wrapError(fmt.Errorf("failed to create completion stream: %w", err))
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", wrapError(fmt.Errorf("completion stream: %w", err))
		}
		if len(response.Choices) > 0 {
			reply.WriteString(response.Choices[0].Delta.Content)
		}
	}
	return reply.String(), nil
}

// runNonStreamingCompletion handles non-streaming responses
func (s *OpenAILLMService) runNonStreamingCompletion(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(fmt.Errorf("failed to create completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessages converts core messages to OpenAI messages, system
// preamble first
func (s *OpenAILLMService) convertMessages(request core.CompletionRequest) ([]openai.ChatCompletionMessage, error) {
	openAIMessages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.System != "" {
		openAIMessages = append(openAIMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.System,
		})
	}

	for _, msg := range request.Messages {
		openAIMsg := openai.ChatCompletionMessage{
			Role:    s.convertRole(msg.Role),
			Content: msg.TextOrPlaceholder(),
		}

		// Handle media content
		if msg.HasMedia() {
			content := make([]openai.ChatMessagePart, 0, len(msg.Media)+1)
			if msg.Message != "" {
				content = append(content, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Message,
				})
			}

			for _, media := range msg.Media {
				mediaURL, err := s.convertMediaToURL(media)
				if err != nil {
					return nil, err
				}

				content = append(content, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: mediaURL,
					},
				})
			}

			openAIMsg.MultiContent = content
			openAIMsg.Content = "" // Clear content when using multi-content
		}

		openAIMessages = append(openAIMessages, openAIMsg)
	}

	return openAIMessages, nil
}

// convertRole converts core role to OpenAI role
func (s *OpenAILLMService) convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// convertMediaToURL loads the image and encodes it as a data URL
func (s *OpenAILLMService) convertMediaToURL(media core.LLMMedia) (string, error) {
	if media.Image == nil {
		return "", errors.New("media without image")
	}
	data, err := media.Image.Load()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", media.Image.Type(), base64.StdEncoding.EncodeToString(data)), nil
}

// wrapError attaches a failure kind to errors coming back from the client.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return core.NewCollaboratorError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return core.NewCollaboratorError(reqErr.HTTPStatusCode, err)
	}
	return &core.CollaboratorError{Kind: core.ClassifyFailure(err), Err: err}
}
