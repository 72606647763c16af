package controlplane

import (
	"chatkit/core"
	conversationEvents "chatkit/events/conversation"
	"chatkit/handlers/conversation"
	"chatkit/handlers/tts"
	"chatkit/protocol"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

type fakeChat struct {
	mu      sync.Mutex
	draft   string
	image   *core.ImageRef
	sent    []string
	bus     *core.EventBus
	sendErr error
}

func (f *fakeChat) SetDraft(text string) {
	f.mu.Lock()
	f.draft = text
	f.mu.Unlock()
}

func (f *fakeChat) StageImage(ref *core.ImageRef) {
	f.mu.Lock()
	f.image = ref
	f.mu.Unlock()
}

func (f *fakeChat) Send(ctx context.Context) (conversation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return conversation.Result{}, f.sendErr
	}
	f.sent = append(f.sent, f.draft)
	user := core.NewUserTurn(f.draft, f.image)
	f.draft, f.image = "", nil
	return conversation.Result{User: user, Assistant: core.NewAssistantTurn("Chào bạn!")}, nil
}

func (f *fakeChat) TogglePlayback(ctx context.Context, turnID string) (tts.PlaybackState, error) {
	if turnID == "" {
		return tts.Silent, tts.ErrUnknownTurn
	}
	return tts.Speaking, nil
}

func (f *fakeChat) StartRecording(ctx context.Context) error { return nil }

func (f *fakeChat) StopRecording(ctx context.Context) (string, error) { return "kiểm tra bugi", nil }

func (f *fakeChat) Busy() bool { return false }

func (f *fakeChat) Transcript() []core.Turn { return nil }

func (f *fakeChat) Bus() *core.EventBus { return f.bus }

type fakeUI struct {
	auth     chan string
	inbound  chan protocol.Envelope
	outbound chan []byte
}

func newFakeUI(t *testing.T) (*fakeUI, *httptest.Server) {
	t.Helper()
	ui := &fakeUI{
		auth:     make(chan string, 1),
		inbound:  make(chan protocol.Envelope, 64),
		outbound: make(chan []byte, 8),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ui.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for msg := range ui.outbound {
				if conn.WriteMessage(websocket.TextMessage, msg) != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgType, payload, err := protocol.Unmarshal(data)
			if err != nil {
				continue
			}
			ui.inbound <- protocol.Envelope{Type: msgType, Payload: payload}
		}
	}))
	t.Cleanup(srv.Close)
	return ui, srv
}

func (u *fakeUI) send(t *testing.T, msgType protocol.MessageType, payload interface{}) {
	t.Helper()
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	u.outbound <- data
}

// next skips heartbeats and returns the first message of the wanted type.
func (u *fakeUI) next(t *testing.T, want protocol.MessageType) protocol.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-u.inbound:
			if env.Type == want {
				return env
			}
		case <-timeout:
			t.Fatalf("no %s message", want)
		}
	}
}

// connect binds chat, when given, before the read loops start.
func connect(t *testing.T, srv *httptest.Server, secret string, chat ChatController, onShutdown func(string)) *Client {
	t.Helper()
	client := NewClient(ClientConfig{
		ConnectURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentID:           "agent-1",
		SessionID:         "session-1",
		HeartbeatInterval: time.Hour,
		TokenSecret:       secret,
		Logger:            core.NewNopLogger(),
	})
	client.OnShutdown = onShutdown
	if chat != nil {
		t.Cleanup(Bind(client, chat))
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestConnectRegistersWithSignedToken(t *testing.T) {
	ui, srv := newFakeUI(t)
	connect(t, srv, "s3cret", nil, nil)

	auth := <-ui.auth
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("auth = %q", auth)
	}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatal(err)
	}
	if sub, _ := token.Claims.GetSubject(); sub != "agent-1" {
		t.Fatalf("subject = %q", sub)
	}

	reg, err := protocol.UnmarshalPayload[protocol.RegisterPayload](ui.next(t, protocol.MsgRegister).Payload)
	if err != nil {
		t.Fatal(err)
	}
	if reg.AgentID != "agent-1" || reg.SessionID != "session-1" || len(reg.Capabilities) != 4 {
		t.Fatalf("register = %+v", reg)
	}
}

func TestConnectWithoutSecretSendsNoToken(t *testing.T) {
	ui, srv := newFakeUI(t)
	connect(t, srv, "", nil, nil)
	if auth := <-ui.auth; auth != "" {
		t.Fatalf("auth = %q", auth)
	}
}

func TestSubmitCommandIsAcked(t *testing.T) {
	ui, srv := newFakeUI(t)
	connect(t, srv, "", &fakeChat{bus: core.NewEventBus(core.NewNopLogger())}, nil)

	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	ui.send(t, protocol.MsgSubmit, protocol.SubmitPayload{RequestID: "r1", Text: "Xin chào", ImageBase64: img})

	ack, err := protocol.UnmarshalPayload[protocol.AckPayload](ui.next(t, protocol.MsgAck).Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !ack.OK || ack.RequestID != "r1" || ack.AckedType != protocol.MsgSubmit {
		t.Fatalf("ack = %+v", ack)
	}
	result, err := protocol.UnmarshalPayload[SubmitResult](ack.Result)
	if err != nil {
		t.Fatal(err)
	}
	if result.User.Content != "Xin chào" || result.User.Image == nil || result.Assistant.Content != "Chào bạn!" {
		t.Fatalf("result = %+v", result)
	}
}

func TestFailedCommandAcksError(t *testing.T) {
	ui, srv := newFakeUI(t)
	chat := &fakeChat{bus: core.NewEventBus(core.NewNopLogger()), sendErr: core.ErrSubmissionInProgress}
	connect(t, srv, "", chat, nil)

	ui.send(t, protocol.MsgSubmit, protocol.SubmitPayload{RequestID: "r2", Text: "hi"})
	ack, _ := protocol.UnmarshalPayload[protocol.AckPayload](ui.next(t, protocol.MsgAck).Payload)
	if ack.OK || ack.RequestID != "r2" || !strings.Contains(ack.Error, "submission in progress") {
		t.Fatalf("ack = %+v", ack)
	}

	ui.send(t, protocol.MsgTogglePlayback, protocol.TogglePlaybackPayload{RequestID: "r3"})
	ack, _ = protocol.UnmarshalPayload[protocol.AckPayload](ui.next(t, protocol.MsgAck).Payload)
	if ack.OK || ack.RequestID != "r3" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestRecordingCommandsRunInOrder(t *testing.T) {
	ui, srv := newFakeUI(t)
	connect(t, srv, "", &fakeChat{}, nil)

	ui.send(t, protocol.MsgStartRecording, protocol.RecordingPayload{RequestID: "start"})
	ui.send(t, protocol.MsgStopRecording, protocol.RecordingPayload{RequestID: "stop"})

	first, _ := protocol.UnmarshalPayload[protocol.AckPayload](ui.next(t, protocol.MsgAck).Payload)
	second, _ := protocol.UnmarshalPayload[protocol.AckPayload](ui.next(t, protocol.MsgAck).Payload)
	if first.RequestID != "start" || second.RequestID != "stop" {
		t.Fatalf("acks = %s, %s", first.RequestID, second.RequestID)
	}
	text, _ := protocol.UnmarshalPayload[transcriptionResult](second.Result)
	if text.Text != "kiểm tra bugi" {
		t.Fatalf("result = %s", second.Result)
	}
}

func TestEventsAreForwarded(t *testing.T) {
	ui, srv := newFakeUI(t)
	bus := core.NewEventBus(core.NewNopLogger())
	connect(t, srv, "", &fakeChat{bus: bus}, nil)

	bus.Publish(&conversationEvents.CannedReplyEvent{TurnID: "t1", Rule: "wear_detection"}, "test")

	ev, err := protocol.UnmarshalPayload[protocol.EventPayload](ui.next(t, protocol.MsgEvent).Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventID != "conversation.canned_reply" || ev.SessionID != "session-1" || !strings.Contains(string(ev.Data), "wear_detection") {
		t.Fatalf("event = %+v", ev)
	}
}

func TestShutdownStopsClient(t *testing.T) {
	ui, srv := newFakeUI(t)
	reasons := make(chan string, 1)
	client := connect(t, srv, "", nil, func(reason string) { reasons <- reason })

	ui.send(t, protocol.MsgShutdown, protocol.ShutdownPayload{Reason: "maintenance"})
	if got := <-reasons; got != "maintenance" {
		t.Fatalf("reason = %q", got)
	}
	done := make(chan struct{})
	go func() { _ = client.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestWSLogWriterFiltersAndStringifies(t *testing.T) {
	ui, srv := newFakeUI(t)
	client := connect(t, srv, "", nil, nil)
	w := NewWSLogWriter(client, "session-1")

	w.Write("DEBUG", "noise", nil)
	w.Write("ERROR", "completion failed", map[string]interface{}{"error": errors.New("boom")})
	w.Close()

	log, err := protocol.UnmarshalPayload[protocol.LogPayload](ui.next(t, protocol.MsgLog).Payload)
	if err != nil {
		t.Fatal(err)
	}
	if log.Entry.Message != "completion failed" || log.Entry.Attrs["error"] != "boom" {
		t.Fatalf("log = %+v", log)
	}
	ui.next(t, protocol.MsgLogEnd)
}
