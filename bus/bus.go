// Package bus publishes conversation transcripts to NATS.
package bus

import (
	"fmt"
	"log"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"

	"github.com/room4-2/VoiceRelay/config"
)

// Transcript roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript is one completed utterance of either party
type Transcript struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Publisher receives transcripts from sessions
type Publisher interface {
	PublishTranscript(t Transcript) error
}

// HealthChecker is implemented by publishers that hold a connection
type HealthChecker interface {
	Healthy() bool
}

// Client publishes transcripts to {subject}.{session_id}
type Client struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS
func Connect(cfg config.NATSConfig) (*Client, error) {
	options := []nats.Option{
		nats.Name("voice-relay"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("⚠️ NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("🔌 NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Printf("✅ Connected to NATS at %s", conn.ConnectedUrl())

	return &Client{conn: conn, subject: cfg.Subject}, nil
}

// PublishTranscript encodes and publishes a transcript without waiting for delivery
func (c *Client) PublishTranscript(t Transcript) error {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	data, err := sonic.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := c.conn.Publish(c.subject+"."+t.SessionID, data); err != nil {
		return fmt.Errorf("publish transcript: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is up
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
