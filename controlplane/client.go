package controlplane

import (
	"chatkit/core"
	"chatkit/protocol"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultSendBufferSize    = 256
	defaultCommandBuffer     = 32
	defaultTokenTTL          = time.Hour
	writeTimeout             = 10 * time.Second
)

var errCommandQueueFull = errors.New("controlplane: command queue full")

// ClientConfig configures the control plane WebSocket client.
type ClientConfig struct {
	ConnectURL        string
	AgentID           string
	SessionID         string
	Version           string
	Metadata          map[string]string
	HeartbeatInterval time.Duration
	// TokenSecret signs an HS256 bearer token for the handshake. Empty
	// means no Authorization header.
	TokenSecret string
	TokenTTL    time.Duration
	Logger      *core.Logger
}

// CommandHandler runs one UI command. The returned value is sent back as the
// ack result.
type CommandHandler func(ctx context.Context, msgType protocol.MessageType, payload json.RawMessage) (interface{}, error)

type command struct {
	msgType protocol.MessageType
	payload json.RawMessage
}

// Client is the agent-side WebSocket client that connects outward to the UI
// server's control plane. It sends logs, heartbeats and chat events, and
// runs UI commands one at a time in arrival order.
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *core.Logger

	// Callbacks set by the agent.
	OnCommand  CommandHandler
	OnShutdown func(reason string)
	// Status reports the heartbeat status and transcript length.
	Status func() (status string, turns int)

	sendCh    chan []byte
	commandCh chan command
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewClient creates a new control plane client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Client{
		config:    cfg,
		logger:    cfg.Logger.With(map[string]interface{}{"component": "controlplane"}),
		sendCh:    make(chan []byte, defaultSendBufferSize),
		commandCh: make(chan command, defaultCommandBuffer),
		done:      make(chan struct{}),
	}
}

// Connect dials the UI server WebSocket endpoint, sends the registration
// message, and starts the read, write, command and heartbeat loops.
// Cancelling ctx closes the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.With(map[string]interface{}{"url": c.config.ConnectURL}).Info("connecting to control plane")

	headers := http.Header{}
	if c.config.TokenSecret != "" {
		token, err := c.bearerToken(time.Now())
		if err != nil {
			c.cancel()
			return err
		}
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(c.ctx, c.config.ConnectURL, headers)
	if err != nil {
		c.cancel()
		if resp != nil {
			return fmt.Errorf("controlplane: dial %q: status %d: %w", c.config.ConnectURL, resp.StatusCode, err)
		}
		return fmt.Errorf("controlplane: dial %q: %w", c.config.ConnectURL, err)
	}
	c.conn = conn

	reg := protocol.RegisterPayload{
		AgentID:      c.config.AgentID,
		SessionID:    c.config.SessionID,
		Version:      c.config.Version,
		Capabilities: []string{string(protocol.MsgSubmit), string(protocol.MsgTogglePlayback), string(protocol.MsgStartRecording), string(protocol.MsgStopRecording)},
		Metadata:     c.config.Metadata,
		Timestamp:    time.Now().UTC(),
	}
	if err := c.send(protocol.MsgRegister, reg); err != nil {
		conn.Close()
		c.cancel()
		return fmt.Errorf("controlplane: send register: %w", err)
	}

	c.logger.With(map[string]interface{}{"agent_id": c.config.AgentID}).Info("registered with control plane")

	go c.readLoop()
	go c.writeLoop()
	go c.commandLoop()
	go c.heartbeatLoop()

	return nil
}

// bearerToken signs the handshake token with the agent as subject.
func (c *Client) bearerToken(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   c.config.AgentID,
		ID:        c.config.SessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.config.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("controlplane: sign token: %w", err)
	}
	return signed, nil
}

// SendLog sends a log entry for a session to the UI.
func (c *Client) SendLog(sessionID string, entry protocol.LogEntry) {
	payload := protocol.LogPayload{
		AgentID:   c.config.AgentID,
		SessionID: sessionID,
		Entry:     entry,
	}
	c.enqueue(protocol.MsgLog, payload)
}

// SendEvent sends a chat event.
func (c *Client) SendEvent(eventID string, data json.RawMessage) {
	payload := protocol.EventPayload{
		AgentID:   c.config.AgentID,
		SessionID: c.config.SessionID,
		EventID:   eventID,
		Data:      data,
	}
	c.enqueue(protocol.MsgEvent, payload)
}

// SendLogEnd signals that a session's log stream has ended.
func (c *Client) SendLogEnd(sessionID string) {
	payload := protocol.LogEndPayload{
		AgentID:   c.config.AgentID,
		SessionID: sessionID,
	}
	c.enqueue(protocol.MsgLogEnd, payload)
}

// Wait blocks until the connection drops or the context is cancelled.
func (c *Client) Wait() error {
	<-c.done
	return nil
}

// Close shuts down the client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) send(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) enqueue(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err, "type": string(msgType)}).Warn("failed to marshal message, dropping")
		return
	}
	select {
	case c.sendCh <- data:
	default:
		// Buffer full: drop oldest and push new.
		select {
		case <-c.sendCh:
		default:
		}
		select {
		case c.sendCh <- data:
		default:
		}
	}
}

func (c *Client) ack(msgType protocol.MessageType, requestID string, result interface{}, err error) {
	payload := protocol.AckPayload{AckedType: msgType, RequestID: requestID, OK: err == nil}
	if err != nil {
		payload.Error = err.Error()
	}
	if result != nil && err == nil {
		raw, merr := protocol.MarshalResult(result)
		if merr != nil {
			payload.OK = false
			payload.Error = merr.Error()
		} else {
			payload.Result = raw
		}
	}
	c.enqueue(protocol.MsgAck, payload)
}

func (c *Client) readLoop() {
	defer func() {
		c.doneOnce.Do(func() { close(c.done) })
		c.cancel()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.With(map[string]interface{}{"error": err}).Warn("control plane connection lost")
			}
			return
		}

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("invalid message from control plane")
			continue
		}

		switch msgType {
		case protocol.MsgSubmit, protocol.MsgTogglePlayback, protocol.MsgStartRecording, protocol.MsgStopRecording:
			select {
			case c.commandCh <- command{msgType: msgType, payload: payload}:
			default:
				c.ack(msgType, protocol.RequestID(payload), nil, errCommandQueueFull)
			}

		case protocol.MsgShutdown:
			p, _ := protocol.UnmarshalPayload[protocol.ShutdownPayload](payload)
			reason := p.Reason
			if reason == "" {
				reason = "shutdown requested by control plane"
			}
			c.logger.With(map[string]interface{}{"reason": reason}).Info("shutdown requested")
			c.ack(msgType, "", nil, nil)
			if c.OnShutdown != nil {
				c.OnShutdown(reason)
			}
			return

		default:
			c.logger.With(map[string]interface{}{"type": string(msgType)}).Warn("unknown message type from control plane")
		}
	}
}

// commandLoop runs commands sequentially so a start_recording is always
// handled before the stop_recording that follows it.
func (c *Client) commandLoop() {
	for {
		select {
		case cmd := <-c.commandCh:
			requestID := protocol.RequestID(cmd.payload)
			if c.OnCommand == nil {
				c.ack(cmd.msgType, requestID, nil, fmt.Errorf("controlplane: %s not supported", cmd.msgType))
				continue
			}
			result, err := c.OnCommand(c.ctx, cmd.msgType, cmd.payload)
			if err != nil {
				c.logger.Warn("command failed", "type", string(cmd.msgType), "request_id", requestID, "error", err)
			}
			c.ack(cmd.msgType, requestID, result, err)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("write to control plane failed")
				return
			}
		case <-c.ctx.Done():
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, such as the final ack and log_end,
// before the connection goes away.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb := protocol.HeartbeatPayload{
				AgentID:   c.config.AgentID,
				Timestamp: time.Now().UTC(),
				Status:    "idle",
			}
			if c.Status != nil {
				hb.Status, hb.Turns = c.Status()
			}
			c.enqueue(protocol.MsgHeartbeat, hb)
		case <-c.ctx.Done():
			return
		}
	}
}
