package controlplane

import (
	"chatkit/core"
	"chatkit/protocol"
	"time"
)

// WSLogWriter implements core.LogWriter by sending log entries over the
// control plane WebSocket. Entries below MinLevel stay local.
type WSLogWriter struct {
	client    *Client
	sessionID string
	MinLevel  core.Level
}

// NewWSLogWriter creates a LogWriter that routes logs to the control plane.
func NewWSLogWriter(client *Client, sessionID string) *WSLogWriter {
	return &WSLogWriter{
		client:    client,
		sessionID: sessionID,
		MinLevel:  core.LevelInfo,
	}
}

// Write sends a log entry over the WebSocket.
func (w *WSLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	if core.ParseLevel(level) < w.MinLevel {
		return
	}
	entry := protocol.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     errorsToStrings(attrs),
	}
	w.client.SendLog(w.sessionID, entry)
}

// Close signals the end of the session's log stream.
func (w *WSLogWriter) Close() {
	w.client.SendLogEnd(w.sessionID)
}

func errorsToStrings(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out[k] = v
	}
	return out
}
