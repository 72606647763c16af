package cartesia

import (
	"chatkit/core"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultCartesiaURL        = "wss://api.cartesia.ai/tts/websocket"
	defaultCartesiaModelID    = "sonic-2"
	defaultCartesiaVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091" // Helpful Woman
	defaultCartesiaAPIVersion = "2024-11-13"
	defaultCartesiaSampleRate = 24000
)

// CartesiaTTSConfig holds configuration for the Cartesia TTS service.
type CartesiaTTSConfig struct {
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	VoiceID    string `json:"voice_id,omitempty"`
	Language   string `json:"language,omitempty"` // used when Synthesize gets none
	APIVersion string `json:"api_version,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// CartesiaTTS implements tts.ISpeechSynthesizer over Cartesia's WebSocket
// streaming API. Every utterance is one context_id on its own connection,
// sent with continue=false so Cartesia answers with chunks and then done.
type CartesiaTTS struct {
	config CartesiaTTSConfig
	logger *core.Logger
	dialer *websocket.Dialer

	mu            sync.RWMutex
	isInitialized bool
}

type cartesiaTTSRequest struct {
	ModelID    string            `json:"model_id"`
	Transcript string            `json:"transcript"`
	Voice      cartesiaVoice     `json:"voice"`
	OutputFmt  cartesiaOutputFmt `json:"output_format"`
	ContextID  string            `json:"context_id"`
	Continue   bool              `json:"continue"`
	Language   string            `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFmt struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaResponse is a text (JSON) frame from Cartesia. Audio arrives
// either as binary frames or as base64 in "chunk" messages.
type cartesiaResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
}

// NewCartesiaTTS creates a new Cartesia TTS service with sensible defaults.
func NewCartesiaTTS(config CartesiaTTSConfig, logger *core.Logger) *CartesiaTTS {
	if config.BaseURL == "" {
		config.BaseURL = defaultCartesiaURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultCartesiaModelID
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultCartesiaVoiceID
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultCartesiaAPIVersion
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultCartesiaSampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &CartesiaTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "cartesia_tts"}),
		dialer: &dialer,
	}
}

func (c *CartesiaTTS) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.APIKey == "" {
		return errors.New("cartesia: API key is required")
	}
	c.isInitialized = true
	return nil
}

func (c *CartesiaTTS) Cleanup() error {
	c.mu.Lock()
	c.isInitialized = false
	c.mu.Unlock()
	return nil
}

func (c *CartesiaTTS) Reset() error {
	return nil
}

// Synthesize speaks text in a fresh context and forwards PCM to out until
// Cartesia reports the context done.
func (c *CartesiaTTS) Synthesize(ctx context.Context, text string, language string, out chan<- core.AudioChunk) error {
	c.mu.RLock()
	initialized := c.isInitialized
	c.mu.RUnlock()
	if !initialized {
		return errors.New("cartesia: service not initialized")
	}
	if language == "" {
		language = c.config.Language
	}

	conn, err := c.establishConnection(ctx)
	if err != nil {
		return err
	}
	defer c.closeConnection(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	contextID := uuid.New().String()
	if err := c.sendJSON(conn, c.buildRequest(text, contextID, language)); err != nil {
		return fmt.Errorf("cartesia: send request: %w", err)
	}

	err = c.readAudio(ctx, conn, contextID, out)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *CartesiaTTS) buildRequest(transcript, contextID, language string) cartesiaTTSRequest {
	return cartesiaTTSRequest{
		ModelID:    c.config.ModelID,
		Transcript: transcript,
		Voice:      cartesiaVoice{Mode: "id", ID: c.config.VoiceID},
		OutputFmt:  cartesiaOutputFmt{Container: "raw", Encoding: "pcm_s16le", SampleRate: c.config.SampleRate},
		ContextID:  contextID,
		Continue:   false,
		Language:   language,
	}
}

func (c *CartesiaTTS) establishConnection(ctx context.Context) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			c.logger.Infof("Cartesia TTS: retrying connection (attempt %d/%d) in %v after: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, resp, err := c.dialConnection(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, core.NewCollaboratorError(resp.StatusCode, fmt.Errorf("cartesia: dial: %w", err))
		}
	}
	return nil, fmt.Errorf("cartesia: failed to connect after %d attempts: %w", maxRetries, lastErr)
}

func (c *CartesiaTTS) dialConnection(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	q := url.Values{}
	q.Set("api_key", c.config.APIKey)
	q.Set("cartesia_version", c.config.APIVersion)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	return conn, resp, nil
}

// readAudio forwards audio for contextID until its done message.
func (c *CartesiaTTS) readAudio(ctx context.Context, conn *websocket.Conn, contextID string, out chan<- core.AudioChunk) error {
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("cartesia: read: %w", err)
		}

		var audio []byte
		done := false
		switch msgType {
		case websocket.BinaryMessage:
			audio = append([]byte(nil), msg...)
		case websocket.TextMessage:
			audio, done, err = c.handleTextMessage(msg, contextID)
			if err != nil {
				return err
			}
		}

		if len(audio) > 0 {
			chunk := core.AudioChunk{
				Data:       &audio,
				SampleRate: c.config.SampleRate,
				Format:     core.PCM,
				Channels:   1,
				Timestamp:  time.Now(),
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if done {
			return nil
		}
	}
}

func (c *CartesiaTTS) handleTextMessage(msg []byte, contextID string) ([]byte, bool, error) {
	var resp cartesiaResponse
	if err := sonic.Unmarshal(msg, &resp); err != nil {
		c.logger.Warn("failed to parse text message", "error", err)
		return nil, false, nil
	}
	if resp.ContextID != "" && resp.ContextID != contextID {
		return nil, false, nil
	}

	switch resp.Type {
	case "chunk":
		if resp.Data == "" {
			return nil, resp.Done, nil
		}
		audio, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			return nil, false, fmt.Errorf("cartesia: decode audio: %w", err)
		}
		return audio, resp.Done, nil
	case "error":
		err := fmt.Errorf("cartesia error (status %d): %s", resp.StatusCode, resp.Error)
		if resp.StatusCode >= 400 {
			return nil, false, core.NewCollaboratorError(resp.StatusCode, err)
		}
		return nil, false, err
	case "done":
		return nil, true, nil
	}
	// timestamps and phoneme_timestamps are informational.
	return nil, resp.Done, nil
}

func (c *CartesiaTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cartesia: marshal: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *CartesiaTTS) closeConnection(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}
