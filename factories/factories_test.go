package factories

import (
	"chatkit/core"
	"chatkit/handlers/conversation"
	cartesia "chatkit/services/cartesia/tts"
	deepgramstt "chatkit/services/deepgram/stt"
	deepgramtts "chatkit/services/deepgram/tts"
	elevenlabs "chatkit/services/elevenlabs/tts"
	geminillm "chatkit/services/gemini/llm"
	openaillm "chatkit/services/openai/llm"
	openaistt "chatkit/services/openai/stt"
	openaitts "chatkit/services/openai/tts"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsInlineSessionKeepsDefaults(t *testing.T) {
	settings, err := SettingsConfigFromJSON([]byte(`{
		"session_config": {
			"llm": {"gemini": {"model": "gemini-2.5-pro"}},
			"stt": {"deepgram": {"model": "nova-3"}},
			"chat": {"auto_speak": true}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	session, err := settings.ResolveSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.LLM.GeminiConfig == nil || session.LLM.GeminiConfig.Model != "gemini-2.5-pro" || session.LLM.OpenAIConfig != nil {
		t.Fatalf("llm = %+v", session.LLM)
	}
	if session.STT.DeepgramConfig == nil || session.STT.WhisperConfig != nil {
		t.Fatalf("stt = %+v", session.STT)
	}
	if session.TTS.OpenAIConfig == nil {
		t.Fatal("tts must default to OpenAI")
	}
	if !session.Chat.AutoSpeak || session.Chat.Conversation.MaxTokens != 300 || session.Chat.STT.Language != "vi" {
		t.Fatalf("chat = %+v", session.Chat)
	}
	if len(session.PhraseRules) != len(conversation.DefaultPhraseRules) {
		t.Fatalf("phrase rules = %d", len(session.PhraseRules))
	}
}

func TestSettingsEmptyPhraseRulesDisableClassifier(t *testing.T) {
	session, err := SessionConfigFromJSON([]byte(`{"phrase_rules": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if session.classifier() != nil {
		t.Fatal("classifier should be off")
	}
	if len(conversation.DefaultPhraseRules) == 0 || conversation.DefaultPhraseRules[0].Name != "inspect_and_fix" {
		t.Fatal("defaults were overwritten")
	}
}

func TestSettingsFromFileAndMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"session_config": {"tts": {"elevenlabs": {"voice_id": "v1"}}}}`), 0644); err != nil {
		t.Fatal(err)
	}
	settings, err := SettingsConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Session.TTS.ElevenLabsConfig == nil || settings.Session.TTS.ElevenLabsConfig.VoiceID != "v1" {
		t.Fatalf("tts = %+v", settings.Session.TTS)
	}

	fallback, err := SettingsConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("missing file must report an error")
	}
	if fallback.Session == nil || fallback.Session.LLM.OpenAIConfig == nil {
		t.Fatal("missing file must still return defaults")
	}
}

func TestSessionAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Tenant") != "garage-7" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"llm": {"xai": {}}}`))
	}))
	defer srv.Close()

	settings := SettingsConfig{SessionAPI: &SessionAPIConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Tenant": "garage-7"},
		Body:    []byte(`{"user":"u1"}`),
	}}
	session, err := settings.ResolveSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.LLM.XAIConfig == nil {
		t.Fatalf("llm = %+v", session.LLM)
	}

	settings.SessionAPI.Headers = nil
	if _, err := settings.ResolveSession(context.Background()); err == nil {
		t.Fatal("non-2xx must fail")
	}
}

func TestInjectAPIKeysKeepsExplicitKeys(t *testing.T) {
	session := DefaultSessionConfig()
	session.LLM.OpenAIConfig = &openaillm.Config{APIKey: "from-file"}
	session.STT.WhisperConfig = &openaistt.Config{}
	session.TTS.ElevenLabsConfig = &elevenlabs.ElevenLabsTTSConfig{}
	session.InjectAPIKeys(APIKeys{OpenAI: "env-openai", ElevenLabs: "env-el"})

	if session.LLM.OpenAIConfig.APIKey != "from-file" {
		t.Fatal("explicit key overwritten")
	}
	if session.STT.WhisperConfig.APIKey != "env-openai" || session.TTS.ElevenLabsConfig.APIKey != "env-el" {
		t.Fatal("env keys not injected")
	}
}

func TestBuildServicesPicksProviders(t *testing.T) {
	session := DefaultSessionConfig()
	session.LLM.GeminiConfig = &geminillm.Config{}
	session.STT.DeepgramConfig = deepgramstt.DefaultConfig()
	session.TTS.OpenAIConfig = &openaitts.Config{}

	services, err := session.BuildServices(core.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := services.Model.(*geminillm.GeminiLLMService); !ok {
		t.Fatalf("model = %T", services.Model)
	}
	if _, ok := services.Transcribe.(*deepgramstt.DeepgramSTTService); !ok {
		t.Fatalf("transcribe = %T", services.Transcribe)
	}
	if _, ok := services.Synth.(*openaitts.OpenAITTSService); !ok {
		t.Fatalf("synth = %T", services.Synth)
	}
	if len(services.Lifecycle()) != 3 {
		t.Fatal("lifecycle must list three services")
	}

	if _, err := DefaultSessionConfig().BuildServices(core.NewNopLogger()); err == nil {
		t.Fatal("no providers must fail")
	}
}

func TestBuildSpeechSynthesizerProviders(t *testing.T) {
	synth, err := BuildSpeechSynthesizer(TTSFactoryConfig{DeepgramConfig: deepgramtts.DefaultConfig()}, core.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := synth.(*deepgramtts.DeepgramTTS); !ok {
		t.Fatalf("synth = %T", synth)
	}

	session := DefaultSessionConfig()
	session.TTS.CartesiaConfig = &cartesia.CartesiaTTSConfig{}
	session.InjectAPIKeys(APIKeys{Cartesia: "ct-key"})
	if session.TTS.CartesiaConfig.APIKey != "ct-key" {
		t.Fatal("cartesia key not injected")
	}
	synth, err = BuildSpeechSynthesizer(session.TTS, core.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := synth.(*cartesia.CartesiaTTS); !ok {
		t.Fatalf("synth = %T", synth)
	}
}

func TestBuildCompletionServiceCompatibleDefaults(t *testing.T) {
	svc, err := BuildCompletionService(LLMFactoryConfig{OpenRouterConfig: &openaillm.Config{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.(*openaillm.OpenAILLMService); !ok {
		t.Fatalf("service = %T", svc)
	}
}

func TestBuildChatAnswersPhraseLocally(t *testing.T) {
	session := DefaultSessionConfig()
	session.ApplyDefaultProviders()
	services, err := session.BuildServices(core.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	c := session.BuildChat(services, Devices{}, nil, core.NewNopLogger())
	defer c.Close()

	c.SetDraft("Làm sao để kiểm tra và khắc phục lỗi này?")
	result, err := c.Send(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Canned || result.Rule != "inspect_and_fix" {
		t.Fatalf("result = %+v", result)
	}
	if len(c.Transcript()) != 2 {
		t.Fatalf("transcript = %d turns", len(c.Transcript()))
	}
}
