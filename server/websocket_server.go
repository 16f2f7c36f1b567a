package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/messages"
	"github.com/room4-2/VoiceRelay/session"

	"github.com/gorilla/websocket"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
}

// NewServerWebsocket serves browser sessions on /ws. metrics may be nil.
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, metrics http.Handler) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(metrics),
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout, sessions set their own deadlines.
	}

	return s
}

func (s *Server) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", healthHandler("websocket", s.sessionManager))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	static := http.FileServer(http.Dir(s.config.StaticDir))
	mux.Handle("/static/", http.StripPrefix("/static/", static))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(s.config.StaticDir, "index.html"))
	})
	return mux
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 WebSocket server starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	serveSession(r.Context(), s.sessionManager, conn, session.ClientBrowser)
}

// serveSession runs one client connection to completion
func serveSession(ctx context.Context, manager *session.Manager, conn *websocket.Conn, kind session.ClientKind) {
	clientSession, err := manager.CreateSession(ctx, conn, kind)
	if err != nil {
		log.Printf("❌ Failed to create %s session: %v", kind, err)
		rejectClient(conn, kind, err)
		return
	}

	// Start session (handles messages in goroutines)
	clientSession.Start()

	// Wait for session to close
	<-clientSession.CloseChan

	// Clean up
	_ = manager.RemoveSession(context.Background(), clientSession.ID)
}

// rejectClient reports a failed session start and closes the connection.
// Twilio has no error event, so its connection is just closed.
func rejectClient(conn *websocket.Conn, kind session.ClientKind, cause error) {
	defer conn.Close()
	if kind != session.ClientBrowser {
		return
	}

	code := messages.ErrCodeSessionFailed
	if errors.Is(cause, session.ErrMaxSessions) {
		code = messages.ErrCodeRateLimited
	}
	data, err := messages.Encode(messages.NewErrorEvent(code, cause.Error()))
	if err != nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session failed"))
}

type healthResponse struct {
	Status      string `json:"status"`
	Server      string `json:"server"`
	Sessions    int    `json:"sessions"`
	Registry    bool   `json:"registry"`
	Transcripts bool   `json:"transcripts"`
}

func healthHandler(name string, manager *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := messages.Encode(healthResponse{
			Status:      "ok",
			Server:      name,
			Sessions:    manager.GetActiveSessionCount(),
			Registry:    manager.RegistryHealthy(r.Context()),
			Transcripts: manager.TranscriptsHealthy(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
