package elevenlabs

import (
	"chatkit/core"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	VoiceID    string `json:"voice_id"`
	ModelID    string `json:"model_id"`
	SampleRate int    `json:"sample_rate"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS implements tts.ISpeechSynthesizer over the ElevenLabs
// stream-input WebSocket API. Each utterance gets its own connection.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	logger *core.Logger
	dialer *websocket.Dialer

	mu            sync.RWMutex
	isInitialized bool
}

// Client messages
type (
	// BOS (Beginning of Stream) - sent once on connect
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	// Text chunk message
	elTextMessage struct {
		Text                 string `json:"text"`
		TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	}
)

// Server messages
type (
	// Audio response from ElevenLabs (base64-encoded audio)
	elAudioMessage struct {
		Audio   string `json:"audio"`
		IsFinal bool   `json:"isFinal"`
		Error   string `json:"error"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config
func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.VoiceID == "" {
		config.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Default: Rachel
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}

	if logger == nil {
		logger = core.GetLogger()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &ElevenLabsTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "elevenlabs_tts"}),
		dialer: &dialer,
	}
}

// outputFormatString converts the sample rate to ElevenLabs output_format param
func outputFormatString(sampleRate int) string {
	switch sampleRate {
	case 16000:
		return "pcm_16000"
	case 22050:
		return "pcm_22050"
	case 44100:
		return "pcm_44100"
	default:
		return "pcm_24000"
	}
}

// Initialize initializes the ElevenLabs TTS service
func (e *ElevenLabsTTS) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.APIKey == "" {
		return errors.New("ElevenLabs API key is required")
	}
	e.isInitialized = true
	return nil
}

// Cleanup performs cleanup of the ElevenLabs TTS service
func (e *ElevenLabsTTS) Cleanup() error {
	e.mu.Lock()
	e.isInitialized = false
	e.mu.Unlock()
	return nil
}

func (e *ElevenLabsTTS) Reset() error {
	return nil
}

// Synthesize speaks text in one stream-input session and forwards the
// decoded PCM to out until ElevenLabs reports the final chunk.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string, language string, out chan<- core.AudioChunk) error {
	e.mu.RLock()
	initialized := e.isInitialized
	e.mu.RUnlock()
	if !initialized {
		return errors.New("service not initialized")
	}

	conn, err := e.establishConnection(ctx, language)
	if err != nil {
		return fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	defer e.closeConnection(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := e.sendBOS(conn); err != nil {
		return fmt.Errorf("failed to send BOS: %w", err)
	}
	// The API only generates once it sees a trailing space.
	if err := e.sendJSON(conn, elTextMessage{Text: strings.TrimSpace(text) + " ", TryTriggerGeneration: true}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	// EOS: empty text signals ElevenLabs to finish generation
	if err := e.sendJSON(conn, elTextMessage{Text: ""}); err != nil {
		return fmt.Errorf("failed to send EOS: %w", err)
	}

	err = e.readAudio(ctx, conn, out)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// establishConnection creates a new WebSocket connection with retry logic
func (e *ElevenLabsTTS) establishConnection(ctx context.Context, language string) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			e.logger.Infof("ElevenLabs TTS: retrying connection (attempt %d/%d) in %v after error: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, resp, err := e.dialConnection(ctx, language)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		// Auth and quota failures will not fix themselves.
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, core.NewCollaboratorError(resp.StatusCode, err)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// dialConnection performs a single WebSocket dial to ElevenLabs
func (e *ElevenLabsTTS) dialConnection(ctx context.Context, language string) (*websocket.Conn, *http.Response, error) {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", outputFormatString(e.config.SampleRate))
	if language != "" {
		q.Set("language_code", language)
	}
	wsURL := fmt.Sprintf("%s/%s/stream-input?%s", e.config.BaseURL, e.config.VoiceID, q.Encode())

	headers := http.Header{"xi-api-key": {e.config.APIKey}}
	conn, resp, err := e.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, resp, err
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn, resp, nil
}

// sendBOS sends the Beginning of Stream message
func (e *ElevenLabsTTS) sendBOS(conn *websocket.Conn) error {
	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	return e.sendJSON(conn, bos)
}

// readAudio forwards audio until isFinal or a normal close.
func (e *ElevenLabsTTS) readAudio(ctx context.Context, conn *websocket.Conn, out chan<- core.AudioChunk) error {
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var data []byte
		final := false
		switch messageType {
		case websocket.TextMessage:
			data, final, err = e.handleTextMessage(message)
			if err != nil {
				return err
			}
		case websocket.BinaryMessage:
			data = append([]byte(nil), message...)
		}

		if len(data) > 0 {
			chunk := core.AudioChunk{
				Data:       &data,
				SampleRate: e.config.SampleRate,
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
		if final {
			e.logger.Debug("generation complete")
			return nil
		}
	}
}

// handleTextMessage decodes one JSON message from ElevenLabs
func (e *ElevenLabsTTS) handleTextMessage(message []byte) ([]byte, bool, error) {
	var msg elAudioMessage
	if err := sonic.Unmarshal(message, &msg); err != nil {
		e.logger.Warn("failed to parse message", "error", err)
		return nil, false, nil
	}
	if msg.Error != "" {
		detail := msg.Message
		if detail == "" {
			detail = msg.Error
		}
		return nil, false, fmt.Errorf("ElevenLabs error: %s (code: %d)", detail, msg.Code)
	}
	if msg.Audio == "" {
		return nil, msg.IsFinal, nil
	}
	audioData, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode audio: %w", err)
	}
	return audioData, msg.IsFinal, nil
}

// sendJSON marshals and sends a JSON message over WebSocket
func (e *ElevenLabsTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// closeConnection says goodbye and closes the socket
func (e *ElevenLabsTTS) closeConnection(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}
