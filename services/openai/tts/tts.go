package tts

import (
	"chatkit/core"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAI returns raw PCM as 24kHz 16-bit little-endian mono.
const pcmSampleRate = 24000

// OpenAITTSService implements tts.ISpeechSynthesizer with the speech API,
// streaming the PCM body out in fixed-size chunks.
type OpenAITTSService struct {
	client     *openai.Client
	apiKey     string
	baseURL    string
	model      openai.SpeechModel
	voice      openai.SpeechVoice
	speed      float64
	chunkBytes int
	httpClient *http.Client
	mu         sync.RWMutex
}

type Config struct {
	APIKey     string       `json:"api_key,omitempty"`
	BaseURL    string       `json:"base_url,omitempty"`
	Model      string       `json:"model,omitempty"`       // Defaults to tts-1.
	Voice      string       `json:"voice,omitempty"`       // Defaults to alloy.
	Speed      float64      `json:"speed,omitempty"`
	ChunkBytes int          `json:"chunk_bytes,omitempty"` // Bytes per emitted chunk, default 4800 (100ms).
	HTTPClient *http.Client `json:"-"`
}

func NewOpenAITTSService(config Config) *OpenAITTSService {
	s := &OpenAITTSService{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      openai.TTSModel1,
		voice:      openai.VoiceAlloy,
		speed:      config.Speed,
		chunkBytes: config.ChunkBytes,
		httpClient: config.HTTPClient,
	}
	if config.Model != "" {
		s.model = openai.SpeechModel(config.Model)
	}
	if config.Voice != "" {
		s.voice = openai.SpeechVoice(config.Voice)
	}
	if s.chunkBytes <= 0 {
		s.chunkBytes = pcmSampleRate / 10 * 2
	}
	return s
}

func (s *OpenAITTSService) Initialize(ctx context.Context) error {
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

func (s *OpenAITTSService) Cleanup() error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

func (s *OpenAITTSService) Reset() error {
	return nil
}

// Synthesize requests PCM for text and forwards it to out as it arrives.
// The speech API picks the language from the text itself.
func (s *OpenAITTSService) Synthesize(ctx context.Context, text string, language string, out chan<- core.AudioChunk) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return errors.New("OpenAI TTS service not initialized")
	}

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          s.speed,
	})
	if err != nil {
		return fmt.Errorf("failed to create speech: %w", err)
	}
	defer resp.Close()

	buf := make([]byte, s.chunkBytes)
	var carry []byte
	for {
		n, readErr := io.ReadFull(resp, buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// Keep sample alignment across reads.
			if len(data)%2 != 0 {
				carry = []byte{data[len(data)-1]}
				data = data[:len(data)-1]
			} else {
				carry = nil
			}
			if len(data) > 0 {
				chunk := core.AudioChunk{Data: &data, SampleRate: pcmSampleRate, Channels: 1, Format: core.PCM, Timestamp: time.Now()}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read speech: %w", readErr)
		}
	}
}
