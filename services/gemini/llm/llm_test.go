package llm

import (
	"chatkit/core"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *GeminiLLMService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewGeminiLLMService(Config{APIKey: "key", BaseURL: srv.URL + "/"})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCompleteSendsImageInline(t *testing.T) {
	var body, path string
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Đây là bugi."}]}}]}`))
	})

	img := core.NewInlineImage([]byte{0xff, 0xd8, 0xff}, core.LLMMediaTypeImageJPEG)
	reply, err := s.Complete(context.Background(), core.CompletionRequest{
		System: "preamble",
		Messages: []core.LLMMessage{
			{Role: core.LLMMessageRoleUser, Message: "Xin chào"},
			{Role: core.LLMMessageRoleAssistant, Message: "Chào bạn!"},
			core.NewUserTurn("Đây là gì?", img).ToLLMMessage(),
		},
		MaxTokens: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Đây là bugi." {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(path, "gemini-2.5-flash:generateContent") {
		t.Fatalf("path = %s", path)
	}
	for _, want := range []string{
		`"preamble"`,
		`"model"`,
		base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}),
		"image/jpeg",
		`300`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %s: %s", want, body)
		}
	}
}

func TestCompleteMapsAPIError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	})
	_, err := s.Complete(context.Background(), core.CompletionRequest{Messages: []core.LLMMessage{{Role: core.LLMMessageRoleUser, Message: "hi"}}})
	if !errors.Is(err, core.ErrCollaboratorFailure) || core.ClassifyFailure(err) != core.FailureRateLimited {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteRequiresInitialize(t *testing.T) {
	s := NewGeminiLLMService(Config{})
	if err := s.Initialize(context.Background()); err == nil {
		t.Fatal("missing key must fail")
	}
	if _, err := s.Complete(context.Background(), core.CompletionRequest{}); !errors.Is(err, core.ErrCollaboratorFailure) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertMessageNeverSendsEmptyText(t *testing.T) {
	content, err := convertMessage(core.LLMMessage{Role: core.LLMMessageRoleUser})
	if err != nil {
		t.Fatal(err)
	}
	if len(content.Parts) != 1 || content.Parts[0].Text != core.ImagePlaceholder {
		t.Fatalf("parts = %+v", content.Parts)
	}

	img := core.NewInlineImage([]byte{0xff, 0xd8}, core.LLMMediaTypeImageJPEG)
	content, err = convertMessage(core.NewUserTurn("", img).ToLLMMessage())
	if err != nil {
		t.Fatal(err)
	}
	if len(content.Parts) != 1 || content.Parts[0].InlineData == nil || content.Parts[0].Text != "" {
		t.Fatalf("image-only parts = %+v", content.Parts)
	}
}
