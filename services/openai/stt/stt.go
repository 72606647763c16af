package stt

import (
	"bytes"
	"chatkit/core"
	"chatkit/utils/audio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// WhisperSTTService transcribes clips with the OpenAI transcription API.
type WhisperSTTService struct {
	client     *openai.Client
	apiKey     string
	baseURL    string
	model      string
	prompt     string
	httpClient *http.Client
	mu         sync.RWMutex
}

type Config struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`    // Defaults to whisper-1.
	// Prompt biases recognition toward domain vocabulary.
	Prompt     string       `json:"prompt,omitempty"`
	HTTPClient *http.Client `json:"-"`
}

func NewWhisperSTTService(config Config) *WhisperSTTService {
	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperSTTService{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      model,
		prompt:     config.Prompt,
		httpClient: config.HTTPClient,
	}
}

func (s *WhisperSTTService) Initialize(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	cfg := openai.DefaultConfig(s.apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	if s.httpClient != nil {
		cfg.HTTPClient = s.httpClient
	}
	s.mu.Lock()
	s.client = openai.NewClientWithConfig(cfg)
	s.mu.Unlock()
	return nil
}

func (s *WhisperSTTService) Cleanup() error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

func (s *WhisperSTTService) Reset() error {
	return nil
}

// Transcribe uploads the clip as a WAV file and returns the recognised text.
func (s *WhisperSTTService) Transcribe(ctx context.Context, clip core.AudioClip, language string) (string, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return "", errors.New("whisper service not initialized")
	}

	wav, err := audio.ClipToWAV(clip)
	if err != nil {
		return "", fmt.Errorf("failed to encode clip: %w", err)
	}

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Prompt:   s.prompt,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return "", core.NewCollaboratorError(apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("failed to transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
