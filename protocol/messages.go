package protocol

import (
	"encoding/json"
	"time"
)

// MessageType enumerates all control-plane message types.
type MessageType string

const (
	// Agent -> UI
	MsgRegister  MessageType = "register"
	MsgHeartbeat MessageType = "heartbeat"
	MsgLog       MessageType = "log"
	MsgEvent     MessageType = "event"
	MsgLogEnd    MessageType = "log_end"
	MsgAck       MessageType = "ack"

	// UI -> Agent
	MsgSubmit         MessageType = "submit"
	MsgTogglePlayback MessageType = "toggle_playback"
	MsgStartRecording MessageType = "start_recording"
	MsgStopRecording  MessageType = "stop_recording"
	MsgShutdown       MessageType = "shutdown"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Agent -> UI payloads ---

// RegisterPayload is sent once by the agent immediately after connecting.
type RegisterPayload struct {
	AgentID      string            `json:"agent_id"`
	SessionID    string            `json:"session_id"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// HeartbeatPayload is sent periodically to keep the connection alive.
type HeartbeatPayload struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Turns     int       `json:"turns"`
	Status    string    `json:"status"` // "idle", "busy"
}

// LogPayload carries a single log entry from a session.
type LogPayload struct {
	AgentID   string   `json:"agent_id"`
	SessionID string   `json:"session_id"`
	Entry     LogEntry `json:"entry"`
}

// LogEntry is a structured log line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// EventPayload carries a chat event for the UI.
type EventPayload struct {
	AgentID   string          `json:"agent_id"`
	SessionID string          `json:"session_id,omitempty"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
}

// LogEndPayload signals that a session's log stream has ended.
type LogEndPayload struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
}

// AckPayload answers one UI command. Result carries the command's output,
// such as the assistant turn of a submit.
type AckPayload struct {
	AckedType MessageType     `json:"acked_type"`
	RequestID string          `json:"request_id,omitempty"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// --- UI -> Agent payloads ---

// SubmitPayload sends a turn typed in the UI. Text replaces the draft; the
// image, when present, replaces the staged one.
type SubmitPayload struct {
	RequestID      string `json:"request_id,omitempty"`
	Text           string `json:"text"`
	ImageBase64    string `json:"image_base64,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`
}

// TogglePlaybackPayload starts or stops speech for an assistant turn.
type TogglePlaybackPayload struct {
	RequestID string `json:"request_id,omitempty"`
	TurnID    string `json:"turn_id"`
}

// RecordingPayload is the payload of start_recording and stop_recording.
type RecordingPayload struct {
	RequestID string `json:"request_id,omitempty"`
}

// ShutdownPayload requests the agent to shut down gracefully.
type ShutdownPayload struct {
	Reason       string `json:"reason,omitempty"`
	GraceSeconds int    `json:"grace_seconds,omitempty"`
}
