package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/VoiceRelay/bus"
	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/synth"
	"github.com/room4-2/VoiceRelay/telemetry"
	"github.com/room4-2/VoiceRelay/upstream"
)

const activeSessionsKey = "active_sessions"

// ErrMaxSessions is returned when the relay is at capacity
var ErrMaxSessions = errors.New("maximum sessions reached")

// Dependencies are shared by every session the manager creates
type Dependencies struct {
	Dialer upstream.Dialer
	// Synthesizers holds one synthesizer per client kind, since each kind
	// expects its own audio format.
	Synthesizers map[ClientKind]synth.Synthesizer
	Transcripts  bus.Publisher
	Metrics      *telemetry.Instruments
}

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	deps     Dependencies
}

// NewManager creates a session manager. The Redis registry is optional and is
// skipped when unconfigured or unreachable.
func NewManager(cfg *config.Config, deps Dependencies) (*Manager, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("upstream dialer is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopInstruments()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️ Redis unavailable at %s, continuing without session registry: %v", cfg.RedisURL, err)
			redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		deps:     deps,
	}, nil
}

// CreateSession opens the upstream for a newly accepted client connection.
// On error the client connection is left open so the caller can report it.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn, kind ClientKind) (*ClientSession, error) {
	if sm.GetActiveSessionCount() >= sm.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	// The handshake can take seconds, so it runs outside the lock.
	dialCtx, cancel := context.WithTimeout(ctx, sm.config.Upstream.DialTimeout)
	defer cancel()

	up, err := sm.deps.Dialer.Dial(dialCtx, upstream.NewSessionConfig(sm.config.Profile, kind.InputAudioFormat()))
	if err != nil {
		sm.deps.Metrics.DialFailed(ctx)
		return nil, fmt.Errorf("upstream handshake failed: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		up.Close()
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, kind, clientConn, up, Options{
		Synthesizer: sm.deps.Synthesizers[kind],
		Transcripts: sm.deps.Transcripts,
		Metrics:     sm.deps.Metrics,
		KeepAlive:   sm.config.KeepAlivePeriod,
	})

	sm.storeSession(ctx, sessionID, session)
	sm.deps.Metrics.SessionStarted(ctx, string(kind))
	log.Printf("✅ [%s] Session created (%s), %d active", shortID(sessionID), kind, len(sm.sessions))
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		_, err := sm.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, "session:"+sessionID, map[string]interface{}{
				"created_at":    session.CreatedAt.Format(time.RFC3339),
				"last_activity": session.LastActivity().Format(time.RFC3339),
				"status":        StateActive.String(),
				"client":        string(session.Kind),
				"provider":      sm.config.Upstream.Provider,
			})
			pipe.SAdd(ctx, activeSessionsKey, sessionID)
			pipe.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
			return nil
		})
		if err != nil {
			log.Printf("⚠️ [%s] Failed to register session in Redis: %v", shortID(sessionID), err)
		}
	}
}

// forget drops a session from memory and Redis. Caller holds sm.mu.
func (sm *Manager) forget(ctx context.Context, sessionID string) {
	delete(sm.sessions, sessionID)
	sm.deps.Metrics.SessionEnded(ctx)

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, activeSessionsKey, sessionID)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	sm.forget(ctx, sessionID)
	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive and
// refreshes the registry entry of the rest
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			log.Printf("⏰ [%s] Session inactive for %s, closing", shortID(id), sm.config.SessionTimeout)
			session.Close()
			sm.forget(ctx, id)
			continue
		}

		if sm.redis != nil {
			sm.redis.HSet(ctx, "session:"+id, "last_activity", session.LastActivity().Format(time.RFC3339))
			sm.redis.Expire(ctx, "session:"+id, sm.config.SessionTimeout)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// RegistryHealthy reports whether the Redis registry is in use and reachable
func (sm *Manager) RegistryHealthy(ctx context.Context) bool {
	if sm.redis == nil {
		return false
	}
	return sm.redis.Ping(ctx).Err() == nil
}

// TranscriptsHealthy reports whether transcript publishing is configured and connected
func (sm *Manager) TranscriptsHealthy() bool {
	checker, ok := sm.deps.Transcripts.(bus.HealthChecker)
	return ok && checker.Healthy()
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ctx := context.Background()
	for id, session := range sm.sessions {
		session.Close()
		sm.forget(ctx, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
