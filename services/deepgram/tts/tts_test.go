package tts

import (
	"chatkit/core"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func newServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(srv *httptest.Server) *DeepgramTTS {
	d := NewDeepgramTTS(Config{
		APIKey:  "dg-key",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, core.NewNopLogger())
	_ = d.Initialize(context.Background())
	return d
}

func TestSynthesizeReadsUntilFlushed(t *testing.T) {
	types := make(chan []string, 1)
	request := make(chan string, 1)
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		request <- r.URL.RawQuery + "|" + r.Header.Get("Authorization")
		var got []string
		for len(got) < 2 {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m speakText
			_ = sonic.Unmarshal(msg, &m)
			got = append(got, m.Type+":"+m.Text)
		}
		types <- got
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","model_name":"aura-2"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 480))
		_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 240))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
		_, _, _ = conn.ReadMessage()
	})

	out := make(chan core.AudioChunk, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := newService(srv).Synthesize(ctx, "Chào bạn", "vi", out); err != nil {
		t.Fatal(err)
	}
	close(out)

	total := 0
	for chunk := range out {
		if chunk.SampleRate != 24000 || chunk.Format != core.PCM {
			t.Fatalf("chunk = %+v", chunk)
		}
		total += len(*chunk.Data)
	}
	if total != 720 {
		t.Fatalf("total bytes = %d", total)
	}

	got := <-types
	if got[0] != "Speak:Chào bạn" || got[1] != "Flush:" {
		t.Fatalf("messages = %q", got)
	}
	req := <-request
	for _, want := range []string{"model=aura-2-thalia-en", "encoding=linear16", "sample_rate=24000", "|Token dg-key"} {
		if !strings.Contains(req, want) {
			t.Fatalf("%q missing %s", req, want)
		}
	}
}

func TestLongTextIsSplitBelowFlushLimit(t *testing.T) {
	speaks := make(chan int, 8)
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m speakText
			_ = sonic.Unmarshal(msg, &m)
			switch m.Type {
			case "Speak":
				speaks <- len([]rune(m.Text))
			case "Flush":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed"}`))
			}
		}
	})

	text := strings.Repeat("ă", 2500)
	if err := newService(srv).Synthesize(context.Background(), text, "vi", make(chan core.AudioChunk, 8)); err != nil {
		t.Fatal(err)
	}
	if first, second := <-speaks, <-speaks; first != 1900 || second != 600 {
		t.Fatalf("chunks = %d, %d", first, second)
	}
}

func TestSynthesizeReportsServerError(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		for i := 0; i < 2; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"too many characters","code":"DATA-0001"}`))
	})
	err := newService(srv).Synthesize(context.Background(), "Chào", "vi", make(chan core.AudioChunk, 8))
	if err == nil || !strings.Contains(err.Error(), "DATA-0001") {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectedHandshakeIsCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newService(srv).Synthesize(context.Background(), "Chào", "vi", make(chan core.AudioChunk, 8))
	var collab *core.CollaboratorError
	if !errors.As(err, &collab) || collab.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

func TestSynthesizeRequiresInitialize(t *testing.T) {
	d := NewDeepgramTTS(Config{}, core.NewNopLogger())
	if err := d.Initialize(context.Background()); err == nil {
		t.Fatal("missing key must fail")
	}
	if err := d.Synthesize(context.Background(), "x", "vi", make(chan core.AudioChunk)); err == nil {
		t.Fatal("expected not initialized error")
	}
}
