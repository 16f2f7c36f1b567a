// Package upstream connects a relay session to the conversational endpoint.
package upstream

import (
	"context"
	"fmt"

	"github.com/room4-2/VoiceRelay/config"
)

// Frame is one client frame bound for the upstream
type Frame struct {
	MessageType int // websocket.TextMessage or websocket.BinaryMessage
	Data        []byte
}

// Event is one upstream event with its routing tag decoded
type Event struct {
	Type       string
	ResponseID string
	Raw        []byte
}

// Upstream is an open upstream session.
// Close is idempotent and may be called concurrently with Send and Receive.
type Upstream interface {
	Send(ctx context.Context, frame Frame) error
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// Dialer opens upstream sessions. The session configuration is sent before Dial returns.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Upstream, error)
}

// NewDialer returns the dialer for the configured provider
func NewDialer(ctx context.Context, cfg config.UpstreamConfig) (Dialer, error) {
	switch cfg.Provider {
	case config.ProviderAzure, "":
		return NewAzureDialer(AzureOptions{
			Endpoint:    cfg.AzureEndpoint,
			APIKey:      cfg.AzureAPIKey,
			Deployment:  cfg.AzureDeployment,
			APIVersion:  cfg.AzureAPIVersion,
			DialTimeout: cfg.DialTimeout,
		})
	case config.ProviderGemini:
		return NewGeminiDialer(ctx, GeminiOptions{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
	default:
		return nil, fmt.Errorf("unknown upstream provider %q", cfg.Provider)
	}
}
