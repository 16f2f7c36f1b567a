package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/session"

	"github.com/gorilla/websocket"
)

type WebsocketTwilio struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
}

func NewServerWebsocketTwilio(cfg *config.Config, sessionManager *session.Manager) *WebsocketTwilio {
	s := &WebsocketTwilio{
		sessionManager: sessionManager,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Twilio doesn't support WebSocket compression
			EnableCompression: false,
			CheckOrigin: func(r *http.Request) bool {
				// Twilio connections don't send browser Origin headers.
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleWebsocketTwilio)
	mux.HandleFunc("/voice", s.handleVoiceCall)
	mux.HandleFunc("/health", healthHandler("twilio", sessionManager))

	// Determine which port to use
	port := cfg.TwilioPort
	if cfg.ServerType == "twilio" {
		// When running as standalone Twilio server, use the main port
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routes, mainly for tests
func (s *WebsocketTwilio) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *WebsocketTwilio) Start() error {
	port := s.httpServer.Addr
	log.Printf("📞 Twilio WebSocket server starting on %s", port)
	log.Printf("📡 Twilio stream endpoint: ws://localhost%s/stream", port)
	log.Printf("📡 Twilio voice endpoint: http://localhost%s/voice", port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *WebsocketTwilio) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down Twilio server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *WebsocketTwilio) handleWebsocketTwilio(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Twilio WebSocket upgrade failed: %v", err)
		return
	}

	serveSession(r.Context(), s.sessionManager, conn, session.ClientTwilio)
}

func (s *WebsocketTwilio) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	wsURL := "wss://" + r.Host + "/stream"

	// TwiML to connect the call to the WebSocket stream
	xmlResponse := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
	<Say>Connecting to the assistant now.</Say>
	<Connect>
		<Stream url="%s" />
	</Connect>
</Response>`, wsURL)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xmlResponse))
}
