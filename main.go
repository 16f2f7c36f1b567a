package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/VoiceRelay/bus"
	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/server"
	"github.com/room4-2/VoiceRelay/session"
	"github.com/room4-2/VoiceRelay/synth"
	"github.com/room4-2/VoiceRelay/telemetry"
	"github.com/room4-2/VoiceRelay/upstream"
)

// Twilio Media Streams play mu-law 8kHz only
const twilioOutputFormat = "ulaw_8000"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}

	dialer, err := upstream.NewDialer(ctx, cfg.Upstream)
	if err != nil {
		log.Fatalf("Failed to create upstream dialer: %v", err)
	}

	voice, err := synth.NewElevenLabs(synth.Options{
		APIKey:       cfg.Synthesis.APIKey,
		VoiceID:      cfg.Synthesis.VoiceID,
		ModelID:      cfg.Synthesis.ModelID,
		OutputFormat: cfg.Synthesis.OutputFormat,
		BaseURL:      cfg.Synthesis.BaseURL,
		Streaming:    cfg.Synthesis.Streaming,
		Timeout:      cfg.Synthesis.Timeout,
		Voice:        synth.VoiceSettings(cfg.Profile.Voice),
	})
	if err != nil {
		log.Fatalf("Failed to create synthesizer: %v", err)
	}

	deps := session.Dependencies{
		Dialer: dialer,
		Synthesizers: map[session.ClientKind]synth.Synthesizer{
			session.ClientBrowser: voice,
			session.ClientTwilio:  voice.WithOutputFormat(twilioOutputFormat),
		},
		Metrics: tel.Instruments,
	}

	// Optional: transcript fan-out
	var transcripts *bus.Client
	if cfg.NATS.URL != "" {
		transcripts, err = bus.Connect(cfg.NATS)
		if err != nil {
			log.Printf("⚠️ Transcript publishing disabled: %v", err)
		} else {
			deps.Transcripts = transcripts
		}
	}

	// Create session manager
	sessionManager, err := session.NewManager(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	log.Printf("🎙️ Upstream: %s, voice: %s (%s)", cfg.Upstream.Provider, cfg.Synthesis.VoiceID, voice.OutputFormat())

	var servers []runnable
	switch cfg.ServerType {
	case "websocket":
		servers = append(servers, server.NewServerWebsocket(cfg, sessionManager, tel.MetricsHandler))
	case "twilio":
		servers = append(servers, server.NewServerWebsocketTwilio(cfg, sessionManager))
	case "both":
		servers = append(servers,
			server.NewServerWebsocket(cfg, sessionManager, tel.MetricsHandler),
			server.NewServerWebsocketTwilio(cfg, sessionManager),
		)
	default:
		log.Fatalf("Unknown SERVER_TYPE: %s", cfg.ServerType)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv runnable) {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}(srv)
	}

	select {
	case <-sigChan:
		log.Println("\nReceived shutdown signal...")
	case err := <-errChan:
		log.Printf("❌ Server error: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}
	sessionManager.Shutdown()
	transcripts.Close()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Printf("Telemetry shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

type runnable interface {
	Start() error
	Shutdown(ctx context.Context) error
}
