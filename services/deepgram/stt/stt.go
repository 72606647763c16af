package stt

import (
	"chatkit/core"
	"chatkit/utils/audio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// DeepgramSTTService transcribes whole clips over Deepgram's streaming
// listen endpoint: the clip is sent, the stream closed, and every final
// result joined into one text.
type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger
	dialer *websocket.Dialer
}

// DeepgramConfig holds configuration options for Deepgram STT
type DeepgramConfig struct {
	APIKey      string            `json:"api_key"`
	BaseURL     string            `json:"base_url"`
	Model       string            `json:"model"`
	Punctuate   bool              `json:"punctuate"`
	SmartFormat bool              `json:"smart_format"`
	Numerals    bool              `json:"numerals"`
	Keywords    []string          `json:"keywords"`
	Keyterms    []string          `json:"keyterms"`
	Extra       map[string]string `json:"extra"`
	// ChunkBytes is the size of each binary frame sent upstream.
	ChunkBytes int `json:"chunk_bytes"`
}

// DefaultConfig returns a default configuration for Deepgram STT
func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:     "wss://api.deepgram.com",
		Model:       "nova-2",
		Punctuate:   true,
		SmartFormat: true,
		ChunkBytes:  8192,
	}
}

// NewDeepgramSTTService creates a new Deepgram STT service instance.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if config.ChunkBytes <= 0 {
		config.ChunkBytes = 8192
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	return &DeepgramSTTService{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "deepgram_stt"}),
		dialer: websocket.DefaultDialer,
	}
}

// Initialize validates the configuration
func (d *DeepgramSTTService) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return fmt.Errorf("Deepgram API key is required")
	}
	return nil
}

// Cleanup is a no-op; each Transcribe owns its own connection.
func (d *DeepgramSTTService) Cleanup() error {
	return nil
}

func (d *DeepgramSTTService) Reset() error {
	return nil
}

// Transcribe streams clip to Deepgram and returns the joined final results.
func (d *DeepgramSTTService) Transcribe(ctx context.Context, clip core.AudioClip, language string) (string, error) {
	pcm, err := audio.DecodeClip(clip)
	if err != nil {
		return "", fmt.Errorf("failed to decode clip: %w", err)
	}
	if err := audio.ValidatePCMData(pcm.Data, pcm.Channels); err != nil {
		return "", err
	}

	wsURL, err := d.buildWebSocketURL(language, pcm.SampleRate, pcm.Channels)
	if err != nil {
		return "", fmt.Errorf("failed to build WebSocket URL: %w", err)
	}
	headers := http.Header{"Authorization": {"Token " + d.config.APIKey}}

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return "", core.NewCollaboratorError(resp.StatusCode, fmt.Errorf("failed to connect to Deepgram: %w", err))
		}
		return "", fmt.Errorf("failed to connect to Deepgram: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sendErr := make(chan error, 1)
	go func() { sendErr <- d.sendClip(conn, pcm.Data) }()

	transcript, readErr := d.collect(conn)
	if readErr != nil {
		_ = conn.Close()
	}
	if err := <-sendErr; err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", readErr
	}
	d.logger.Debug("clip transcribed", "bytes", len(pcm.Data), "chars", len(transcript))
	return transcript, nil
}

// sendClip writes the audio in frames and then asks Deepgram to flush and
// close the stream.
func (d *DeepgramSTTService) sendClip(conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += d.config.ChunkBytes {
		end := min(off+d.config.ChunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}
	msg, err := sonic.Marshal(ListenV1CloseStream{Type: "CloseStream"})
	if err != nil {
		return fmt.Errorf("failed to marshal close message: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to send close message: %w", err)
	}
	return nil
}

// collect reads until Deepgram sends its closing Metadata or closes the
// socket.
func (d *DeepgramSTTService) collect(conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("error reading message: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		done, text, err := d.handleMessage(message)
		if err != nil {
			if done {
				return "", err
			}
			d.logger.Warn("ignoring Deepgram message", "error", err)
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
		if done {
			return strings.Join(parts, " "), nil
		}
	}
}

// buildWebSocketURL constructs the WebSocket URL with query parameters
func (d *DeepgramSTTService) buildWebSocketURL(language string, sampleRate, channels int) (string, error) {
	base, err := url.Parse(d.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if language != "" {
		q.Set("language", language)
	}
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	q.Set("numerals", strconv.FormatBool(d.config.Numerals))
	q.Set("interim_results", "false")

	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))

	for _, keyword := range d.config.Keywords {
		q.Add("keywords", keyword)
	}
	for _, keyterm := range d.config.Keyterms {
		q.Add("keyterm", keyterm)
	}
	for key, value := range d.config.Extra {
		q.Set(key, value)
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

// handleMessage returns the final text carried by message, if any, and
// whether the stream is finished.
func (d *DeepgramSTTService) handleMessage(message []byte) (bool, string, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(message, &base); err != nil {
		return false, "", fmt.Errorf("failed to parse message type: %w", err)
	}

	switch base.Type {
	case "Results":
		var result ListenV1Results
		if err := sonic.Unmarshal(message, &result); err != nil {
			return false, "", fmt.Errorf("failed to parse results: %w", err)
		}
		if len(result.Channel.Alternatives) == 0 || !(result.IsFinal || result.FromFinalize) {
			return false, "", nil
		}
		return false, strings.TrimSpace(result.Channel.Alternatives[0].Transcript), nil
	case "Metadata":
		return true, "", nil
	case "Error":
		var e ListenV1Error
		_ = sonic.Unmarshal(message, &e)
		return true, "", errors.New("deepgram error: " + e.Description)
	default:
		return false, "", nil
	}
}

// Message structs based on the AsyncAPI specification

type ListenV1Results struct {
	Type         string  `json:"type"`
	Duration     float64 `json:"duration"`
	Start        float64 `json:"start"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type ListenV1Error struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ListenV1CloseStream struct {
	Type string `json:"type"`
}

// readTimeout bounds a Transcribe call when ctx has no deadline.
const readTimeout = 30 * time.Second
