package tts

import (
	"chatkit/core"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// maxCharsBeforeFlush is the character limit Deepgram accepts between
// flushes. Going over returns DATA-0001 (1008).
const maxCharsBeforeFlush = 2000

// Config holds configuration for the Deepgram speak service
type Config struct {
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Model      string `json:"model,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "wss://api.deepgram.com/v1/speak",
		Model:      "aura-2-thalia-en",
		SampleRate: 24000,
	}
}

// DeepgramTTS implements tts.ISpeechSynthesizer over the Deepgram speak
// WebSocket API. Each utterance gets its own connection: the text is sent,
// flushed, and audio is read until Deepgram reports the flush done.
type DeepgramTTS struct {
	config Config
	logger *core.Logger
	dialer *websocket.Dialer

	mu            sync.RWMutex
	isInitialized bool
}

// Client messages
type (
	speakText struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	speakControl struct {
		Type string `json:"type"`
	}
)

// Server messages share a type field; only the ones we act on carry more.
type speakServerMessage struct {
	Type        string  `json:"type"`
	ModelName   string  `json:"model_name"`
	SequenceID  float64 `json:"sequence_id"`
	Description string  `json:"description"`
	Code        string  `json:"code"`
}

// NewDeepgramTTS creates a new Deepgram speak service.
func NewDeepgramTTS(config Config, logger *core.Logger) *DeepgramTTS {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &DeepgramTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "deepgram_tts"}),
		dialer: &dialer,
	}
}

func (d *DeepgramTTS) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.APIKey == "" {
		return errors.New("Deepgram API key is required")
	}
	d.isInitialized = true
	return nil
}

func (d *DeepgramTTS) Cleanup() error {
	d.mu.Lock()
	d.isInitialized = false
	d.mu.Unlock()
	return nil
}

func (d *DeepgramTTS) Reset() error {
	return nil
}

// Synthesize speaks text and forwards linear16 PCM to out. The language is
// carried by the model name, so the argument is only logged.
func (d *DeepgramTTS) Synthesize(ctx context.Context, text string, language string, out chan<- core.AudioChunk) error {
	d.mu.RLock()
	initialized := d.isInitialized
	d.mu.RUnlock()
	if !initialized {
		return errors.New("service not initialized")
	}

	conn, err := d.establishConnection(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	defer d.closeConnection(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	d.logger.Debug("speaking", "model", d.config.Model, "language", language, "chars", len(text))

	flushes, err := d.sendText(conn, text)
	if err != nil {
		return err
	}

	err = d.readAudio(ctx, conn, flushes, out)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// sendText sends text in pieces below the flush limit, flushing after each,
// and returns how many Flushed replies to expect.
func (d *DeepgramTTS) sendText(conn *websocket.Conn, text string) (int, error) {
	const chunkSize = maxCharsBeforeFlush - 100
	runes := []rune(text)
	flushes := 0
	for len(runes) > 0 {
		n := min(len(runes), chunkSize)
		if err := d.sendJSON(conn, speakText{Type: "Speak", Text: string(runes[:n])}); err != nil {
			return 0, fmt.Errorf("failed to send text: %w", err)
		}
		if err := d.sendJSON(conn, speakControl{Type: "Flush"}); err != nil {
			return 0, fmt.Errorf("failed to flush: %w", err)
		}
		runes = runes[n:]
		flushes++
	}
	return flushes, nil
}

// establishConnection creates a new WebSocket connection with retry logic
func (d *DeepgramTTS) establishConnection(ctx context.Context) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			d.logger.Infof("Deepgram TTS: retrying connection (attempt %d/%d) in %v after error: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, resp, err := d.dialConnection(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, core.NewCollaboratorError(resp.StatusCode, err)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// dialConnection performs a single WebSocket dial to Deepgram
func (d *DeepgramTTS) dialConnection(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprint(d.config.SampleRate))
	wsURL := d.config.BaseURL + "?" + q.Encode()

	// Deepgram requires the "Token " prefix.
	headers := http.Header{"Authorization": {"Token " + d.config.APIKey}}
	conn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	return conn, resp, nil
}

// readAudio forwards binary frames until every flush is acknowledged.
func (d *DeepgramTTS) readAudio(ctx context.Context, conn *websocket.Conn, flushes int, out chan<- core.AudioChunk) error {
	for flushes > 0 {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			data := append([]byte(nil), message...)
			chunk := core.AudioChunk{
				Data:       &data,
				SampleRate: d.config.SampleRate,
				Format:     core.PCM,
				Channels:   1,
				Timestamp:  time.Now(),
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}

		case websocket.TextMessage:
			var msg speakServerMessage
			if err := sonic.Unmarshal(message, &msg); err != nil {
				d.logger.Warn("failed to parse message", "error", err)
				continue
			}
			switch msg.Type {
			case "Metadata":
				d.logger.Debug("speak metadata", "model", msg.ModelName)
			case "Flushed":
				flushes--
			case "Warning":
				d.logger.Warn("Deepgram TTS warning", "description", msg.Description, "code", msg.Code)
			case "Error":
				return fmt.Errorf("Deepgram error: %s (code: %s)", msg.Description, msg.Code)
			}
		}
	}
	return nil
}

// sendJSON marshals and sends a JSON message over WebSocket
func (d *DeepgramTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// closeConnection sends Close, then a normal close frame.
func (d *DeepgramTTS) closeConnection(conn *websocket.Conn) {
	_ = d.sendJSON(conn, speakControl{Type: "Close"})
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}
