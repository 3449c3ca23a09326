// Command voicemode-agent wires the VoiceMode runtime together end to end:
// configuration, provider registries with STT/TTS failover, the audio
// device, barge-in, Connect, mailbox, the mailbox watcher, and the advisory
// conch lock. Adapted from the teacher's cmd/agent/main.go, which wired one
// fixed STT/LLM/TTS triple picked by env-var switch statements; this version
// builds an ordered list of endpoints per role from VOICEMODE_*_BASE_URLS
// and lets pkg/provider.Failover pick between them at call time.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/auth"
	"github.com/voicemode/voicemode/pkg/conch"
	"github.com/voicemode/voicemode/pkg/connect"
	"github.com/voicemode/voicemode/pkg/conversation"
	"github.com/voicemode/voicemode/pkg/eventlog"
	"github.com/voicemode/voicemode/pkg/exchange"
	"github.com/voicemode/voicemode/pkg/hostagent"
	"github.com/voicemode/voicemode/pkg/mailbox"
	"github.com/voicemode/voicemode/pkg/pipeline"
	"github.com/voicemode/voicemode/pkg/player"
	"github.com/voicemode/voicemode/pkg/provider"
	"github.com/voicemode/voicemode/pkg/stt"
	"github.com/voicemode/voicemode/pkg/tts"
	"github.com/voicemode/voicemode/pkg/vad"
	"github.com/voicemode/voicemode/pkg/vmconfig"
	"github.com/voicemode/voicemode/pkg/vmlog"
	"github.com/voicemode/voicemode/pkg/watcher"
)

func main() {
	cfg, err := vmconfig.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		log.Fatalf("logs dir: %v", err)
	}
	logFile, err := os.OpenFile(cfg.LogsDir()+"/agent.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("log file: %v", err)
	}
	defer logFile.Close()
	logger := vmlog.NewJSON(logFile, slog.LevelInfo)

	sttClients, sttRegistry := buildSTT(cfg)
	ttsClients, ttsRegistry, openAIEndpoints := buildTTS(cfg)

	synth := pipeline.NewSynthesizePipeline(ttsRegistry, ttsClients, openAIEndpoints, logger)
	transcribe := pipeline.NewTranscribePipeline(sttRegistry, sttClients, logger)

	events, err := eventlog.New(cfg.LogsDir()+"/events_"+time.Now().UTC().Format("2006-01-02")+".jsonl", 1024, logger)
	if err != nil {
		log.Fatalf("event log: %v", err)
	}
	defer events.Close()
	exchanges := exchange.NewWriter(cfg.LogsDir(), logger)
	defer exchanges.Close()

	var lock *conch.Conch
	if cfg.ConchEnabled {
		lock = conch.New(cfg.ConchPath(), "voicemode-agent", time.Duration(cfg.ConchLockExpiry)*time.Second)
	}

	var rewriter hostagent.PronunciationRewriter = hostagent.NoOpPronunciationRewriter{}

	dev, err := audio.Open(audio.OpenConfig{SampleRate: 16000, Channels: 1, FrameMS: 20}, logger)
	if err != nil {
		log.Fatalf("audio device: %v", err)
	}
	defer dev.Close()

	pl := player.New(dev, logger)

	var vadTemplate vad.Provider
	if cfg.BargeIn {
		vadTemplate = vad.NewFromAggressiveness(cfg.BargeInVADAggressiveness, 500*time.Millisecond)
	}

	conv := conversation.New(conversation.Config{
		Synthesize:          synth,
		Transcribe:          transcribe,
		IO:                  dev,
		Player:              pl,
		VADTemplate:         vadTemplate,
		BargeInEnabled:      cfg.BargeIn,
		BargeInMinSpeechMS:  cfg.BargeInMinSpeechMs,
		BargeInBufferWindow: 500,
		Events:              events,
		Exchanges:           exchanges,
		Rewriter:            rewriter,
		Lock:                lock,
		ListenSampleRate:    16000,
		Logger:              logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ConnectEnabled {
		startConnect(ctx, cfg, logger)
	}

	fmt.Println("VoiceMode agent started. Press Ctrl+C to exit.")
	result := conv.Converse(ctx, conversationOptions())
	fmt.Println("converse() ->", result)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
}

func conversationOptions() conversation.Options {
	return conversation.Options{
		Message:           "Hello. How can I help you today?",
		WaitForResponse:   true,
		ChimeEnabled:      true,
		MinListenDuration: 500 * time.Millisecond,
		MaxListenDuration: 30 * time.Second,
		PlaybackMode:      pipeline.PlaybackBlocking,
	}
}

// buildSTT constructs one endpoint per configured STT base URL, each backed by
// the OpenAI STT client, and a single GroqSTT endpoint when no URLs are
// configured, matching the teacher's GROQ_API_KEY default.
func buildSTT(cfg *vmconfig.Config) (map[string]provider.STTProvider, *provider.Registry) {
	registry := provider.NewRegistry()
	clients := map[string]provider.STTProvider{}

	urls := cfg.STTBaseURLs
	if len(urls) == 0 {
		if key := os.Getenv("GROQ_API_KEY"); key != "" {
			ep := provider.NewEndpointDescriptor(provider.RoleSTT, "https://api.groq.com", 0)
			registry.AddSTT(ep)
			clients[ep.ID] = stt.NewGroqSTT(key, "whisper-large-v3-turbo")
		}
		return clients, registry
	}

	for i, u := range urls {
		ep := provider.NewEndpointDescriptor(provider.RoleSTT, u, i)
		registry.AddSTT(ep)
		clients[ep.ID] = stt.NewOpenAISTT(os.Getenv("OPENAI_API_KEY"), "whisper-1")
	}
	return clients, registry
}

// buildTTS constructs one endpoint per configured TTS base URL. An endpoint
// whose URL is exactly https://api.openai.com/v1 is flagged so SynthesizePipeline
// remaps voices through tts.RemapVoiceForOpenAI.
func buildTTS(cfg *vmconfig.Config) (map[string]provider.TTSProvider, *provider.Registry, map[string]bool) {
	registry := provider.NewRegistry()
	clients := map[string]provider.TTSProvider{}
	openAI := map[string]bool{}

	urls := cfg.TTSBaseURLs
	if len(urls) == 0 {
		if key := os.Getenv("LOKUTOR_API_KEY"); key != "" {
			ep := provider.NewEndpointDescriptor(provider.RoleTTS, "https://api.lokutor.ai", 0)
			registry.AddTTS(ep)
			clients[ep.ID] = tts.NewLokutorTTS(key)
		}
		return clients, registry, openAI
	}

	for i, u := range urls {
		ep := provider.NewEndpointDescriptor(provider.RoleTTS, u, i)
		registry.AddTTS(ep)
		isOpenAI := u == "https://api.openai.com/v1"
		openAI[ep.ID] = isOpenAI
		apiKey := os.Getenv("OPENAI_API_KEY")
		clients[ep.ID] = tts.NewOpenAICompatibleTTS(ep.ID, apiKey, u, "tts-1", "pcm")
	}
	return clients, registry, openAI
}

// startConnect wires the Connect WebSocket client, a mailbox UserManager,
// and the mailbox watcher, running the connection loop and watcher as
// background goroutines per spec.md §4.8/§4.10.
func startConnect(ctx context.Context, cfg *vmconfig.Config, logger vmlog.Logger) {
	teamsDir := filepath.Join(cfg.BaseDir, "connect", "teams")
	users := mailbox.NewUserManager(cfg.ConnectHost, cfg.ConnectUsersDir(), teamsDir, logger)

	tokenFunc := func(ctx context.Context) (string, bool, error) {
		creds, err := auth.GetValidCredentials(cfg.CredentialsPath(), nil)
		if err != nil || creds == nil {
			return "", false, err
		}
		return creds.AccessToken, true, nil
	}

	client := connect.NewClient(connect.Config{
		WSURL: cfg.ConnectWSURL,
		Device: connect.DeviceInfo{
			Platform:     "voicemode-agent",
			AppVersion:   "0.1.0",
			DeviceID:     cfg.ConnectHost,
			Name:         cfg.ConnectHost,
			Capabilities: map[string]bool{"tts": true, "stt": true},
		},
	}, users, tokenFunc, logger)

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("connect: client loop exited", "error", err)
		}
	}()

	go func() {
		if err := watcher.Watch(ctx, client, users, 3*time.Second, logger, nil); err != nil && ctx.Err() == nil {
			logger.Error("watcher: exited", "error", err)
		}
	}()
}
