package stt

import (
	"chatkit/core"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

type fakeDeepgram struct {
	query    chan string
	auth     chan string
	received chan int
	results  []string
	failWith string
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.query <- r.URL.RawQuery
	f.auth <- r.Header.Get("Authorization")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	total := 0
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			total += len(msg)
			continue
		}
		if strings.Contains(string(msg), "CloseStream") {
			break
		}
	}
	f.received <- total

	if f.failWith != "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"`+f.failWith+`"}`))
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"kiểm"}]}}`))
	for _, r := range f.results {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"`+r+`"}]}}`))
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"1"}`))
}

func newFake(results ...string) *fakeDeepgram {
	return &fakeDeepgram{
		query:    make(chan string, 1),
		auth:     make(chan string, 1),
		received: make(chan int, 1),
		results:  results,
	}
}

func newService(srv *httptest.Server) *DeepgramSTTService {
	cfg := DefaultConfig()
	cfg.APIKey = "dg-key"
	cfg.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.ChunkBytes = 1000
	return NewDeepgramSTTService(cfg, core.NewNopLogger())
}

func TestTranscribeJoinsFinalResults(t *testing.T) {
	fake := newFake("kiểm tra", "bugi")
	srv := httptest.NewServer(fake)
	defer srv.Close()
	s := newService(srv)

	clip := core.AudioClip{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1, Format: core.PCM}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := s.Transcribe(ctx, clip, "vi")
	if err != nil {
		t.Fatal(err)
	}
	if text != "kiểm tra bugi" {
		t.Fatalf("text = %q", text)
	}
	q := <-fake.query
	for _, want := range []string{"language=vi", "sample_rate=16000", "encoding=linear16", "model=nova-2"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %s", q, want)
		}
	}
	if got := <-fake.auth; got != "Token dg-key" {
		t.Fatalf("auth = %q", got)
	}
	if got := <-fake.received; got != 3200 {
		t.Fatalf("server received %d bytes", got)
	}
}

func TestTranscribeDecodesULaw(t *testing.T) {
	fake := newFake("xin chào")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	clip := core.AudioClip{Data: make([]byte, 800), SampleRate: 8000, Channels: 1, Format: core.ULAW}
	if _, err := newService(srv).Transcribe(context.Background(), clip, "vi"); err != nil {
		t.Fatal(err)
	}
	if q := <-fake.query; !strings.Contains(q, "sample_rate=8000") {
		t.Fatalf("query = %q", q)
	}
	if got := <-fake.received; got != 1600 {
		t.Fatalf("server received %d bytes, want 16-bit PCM", got)
	}
}

func TestTranscribeServerError(t *testing.T) {
	fake := newFake()
	fake.failWith = "bad audio"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	clip := core.AudioClip{Data: make([]byte, 320), SampleRate: 16000, Channels: 1, Format: core.PCM}
	if _, err := newService(srv).Transcribe(context.Background(), clip, "vi"); err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscribeRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	clip := core.AudioClip{Data: make([]byte, 320), SampleRate: 16000, Channels: 1, Format: core.PCM}
	_, err := newService(srv).Transcribe(context.Background(), clip, "vi")
	if core.ClassifyFailure(err) != core.FailureMalformed {
		t.Fatalf("err = %v", err)
	}
}

func TestInitializeRequiresKey(t *testing.T) {
	if err := NewDeepgramSTTService(nil, core.NewNopLogger()).Initialize(context.Background()); err == nil {
		t.Fatal("expected missing key error")
	}
}
