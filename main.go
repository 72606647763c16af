package main

import (
	"bufio"
	"chatkit/controlplane"
	"chatkit/core"
	"chatkit/factories"
	"chatkit/handlers/chat"
	"chatkit/runner"
	"chatkit/transports/local"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	var (
		connectURL   string
		settingsPath string
		micPath      string
		outDir       string
	)
	flag.StringVar(&connectURL, "connect", "", "WebSocket URL of UI control plane (e.g. ws://ui:8888/ws/agent)")
	flag.StringVar(&settingsPath, "settings", getEnv("SETTINGS_PATH", "./settings.json"), "path to settings.json")
	flag.StringVar(&micPath, "mic", "", "WAV file played back as the microphone")
	flag.StringVar(&outDir, "out", "./speech", "directory for synthesized speech")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}
	core.SetLogger(core.NewDevelopmentLogger(core.ParseLevel(os.Getenv("LOG_LEVEL"))))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionID := uuid.New().String()
	base := core.GetLogger()
	var writers core.MultiLogWriter

	if dir := os.Getenv("LOG_DIR"); dir != "" {
		w, err := core.NewSessionLogWriter(dir, core.SessionMetadata{SessionID: sessionID})
		if err != nil {
			base.With(map[string]any{"error": err}).Warn("session log file disabled")
		} else {
			writers = append(writers, w)
		}
	}

	var client *controlplane.Client
	if connectURL != "" {
		client = newControlPlaneClient(connectURL, sessionID, cancel, base)
		writers = append(writers, controlplane.NewWSLogWriter(client, sessionID))
	}

	logger := base
	if len(writers) > 0 {
		logger = core.NewSessionLogger(base, writers)
		defer writers.Close()
	}
	logger = logger.With(map[string]any{"session_id": sessionID})

	if err := run(ctx, client, settingsPath, micPath, outDir, logger); err != nil {
		logger.With(map[string]any{"error": err}).Error("chat ended with error")
		os.Exit(1)
	}
	logger.Info("Shutting down...")
}

func run(ctx context.Context, client *controlplane.Client, settingsPath, micPath, outDir string, logger *core.Logger) error {
	settings := loadSettings(settingsPath, logger)
	session, err := settings.ResolveSession(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	session.InjectAPIKeys(loadAPIKeys())

	services, err := session.BuildServices(logger)
	if err != nil {
		return err
	}
	r := runner.NewRunner(services.Lifecycle(), logger)
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

	picker := local.NewFileImagePicker()
	devices := factories.Devices{
		Picker: picker,
		Sinks:  local.NewWavSinkFactory(outDir, logger),
	}
	if micPath != "" {
		devices.Microphone = local.NewFileMicrophone(micPath, logger)
	}

	bus := core.NewEventBus(logger)
	c := session.BuildChat(services, devices, bus, logger)
	defer c.Close()

	if client != nil {
		return runConnected(ctx, client, c, logger)
	}
	return runConsole(ctx, c, picker, os.Stdin, os.Stdout)
}

// newControlPlaneClient prepares the client. The agent dies when the
// control plane asks it to.
func newControlPlaneClient(connectURL, sessionID string, cancel context.CancelFunc, logger *core.Logger) *controlplane.Client {
	agentID := os.Getenv("AGENT_ID")
	if agentID == "" {
		hostname, _ := os.Hostname()
		agentID = hostname
	}

	client := controlplane.NewClient(controlplane.ClientConfig{
		ConnectURL:  connectURL,
		AgentID:     agentID,
		SessionID:   sessionID,
		Version:     "1.0.0",
		TokenSecret: os.Getenv("AGENT_TOKEN_SECRET"),
		Metadata: map[string]string{
			"hostname": func() string { h, _ := os.Hostname(); return h }(),
		},
		Logger: logger,
	})
	client.OnShutdown = func(reason string) {
		logger.With(map[string]any{"reason": reason}).Info("shutdown requested by control plane")
		cancel()
	}
	return client
}

// runConnected hands the chat to the control plane until either side ends.
func runConnected(ctx context.Context, client *controlplane.Client, c *chat.Chat, logger *core.Logger) error {
	unbind := controlplane.Bind(client, c)
	defer unbind()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	lost := make(chan struct{})
	go func() {
		client.Wait()
		close(lost)
	}()

	select {
	case <-ctx.Done():
	case <-lost:
		logger.Info("control plane connection lost, shutting down")
	}
	return nil
}

// runConsole is a line-oriented chat for terminals. Plain lines are sent
// as turns; slash commands drive recording, images and playback.
func runConsole(ctx context.Context, c *chat.Chat, picker *local.FileImagePicker, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, "Commands: /record, /stop, /cancel, /image <path>, /play <n>, /history, /quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, c, picker, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *chat.Chat, picker *local.FileImagePicker, line string, out io.Writer) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/record":
		if err := c.StartRecording(ctx); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		fmt.Fprintln(out, "* recording, /stop to finish")
	case "/stop":
		text, err := c.StopRecording(ctx)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* heard: %s\n* draft: %s\n", text, c.Pending().Draft)
	case "/cancel":
		c.CancelRecording()
	case "/image":
		picker.Select(arg)
		ref, err := c.PickImage(ctx)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* image staged: %s\n", ref.URI)
	case "/play":
		turns := c.Transcript()
		var n int
		if _, err := fmt.Sscanf(arg, "%d", &n); err != nil || n < 1 || n > len(turns) {
			fmt.Fprintln(out, "! usage: /play <turn number from /history>")
			return false
		}
		state, err := c.TogglePlayback(ctx, turns[n-1].ID)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* turn %d: %s\n", n, state)
	case "/history":
		for i, turn := range c.Transcript() {
			image := ""
			if turn.Image != nil {
				image = " [image]"
			}
			fmt.Fprintf(out, "%d %s%s: %s\n", i+1, turn.Role, image, turn.Content)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintf(out, "! unknown command %s\n", cmd)
			return false
		}
		draft := c.Pending().Draft
		if draft != "" {
			line = draft + " " + line
		}
		c.SetDraft(line)
		result, err := c.Send(ctx)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		fmt.Fprintf(out, "> %s\n", result.Assistant.Content)
	}
	return false
}

// loadSettings reads SETTINGS_JSON_B64 when set, the settings file otherwise,
// and falls back to defaults.
func loadSettings(path string, logger *core.Logger) factories.SettingsConfig {
	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to decode SETTINGS_JSON_B64")
			return factories.DefaultSettingsConfig()
		}
		settings, err := factories.SettingsConfigFromJSON(data)
		if err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
			return factories.DefaultSettingsConfig()
		}
		logger.Info("loaded settings from SETTINGS_JSON_B64")
		return settings
	}

	settings, err := factories.SettingsConfigFromFile(path)
	if err != nil {
		l := logger.With(map[string]any{"path": path, "error": err})
		if errors.Is(err, os.ErrNotExist) {
			l.Info("no settings file, using defaults")
		} else {
			l.Warn("failed to load settings, using defaults")
		}
		return factories.DefaultSettingsConfig()
	}
	return settings
}

func loadAPIKeys() factories.APIKeys {
	return factories.APIKeys{
		OpenAI:     getEnv("OPENAI_API_KEY", ""),
		Gemini:     getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
		OpenRouter: getEnv("OPENROUTER_API_KEY", ""),
		Together:   getEnv("TOGETHER_API_KEY", ""),
		XAI:        getEnv("XAI_API_KEY", ""),
		Deepgram:   getEnv("DEEPGRAM_API_KEY", ""),
		ElevenLabs: getEnv("ELEVENLABS_API_KEY", ""),
		Cartesia:   getEnv("CARTESIA_API_KEY", ""),
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
