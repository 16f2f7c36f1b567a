package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/messages"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
	maxEventSize        = 4 * 1024 * 1024
)

// AzureOptions configures the Azure OpenAI Realtime backend
type AzureOptions struct {
	Endpoint     string // host, or URL with http(s)/ws(s) scheme
	APIKey       string
	Deployment   string
	APIVersion   string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// AzureDialer opens Azure OpenAI Realtime websocket sessions
type AzureDialer struct {
	url          string
	apiKey       string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	dialer       *websocket.Dialer
}

// NewAzureDialer validates options and builds the realtime URL
func NewAzureDialer(opts AzureOptions) (*AzureDialer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("azure api key is required")
	}
	u, err := realtimeURL(opts.Endpoint, opts.Deployment, opts.APIVersion)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &AzureDialer{
		url:          u,
		apiKey:       opts.APIKey,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
			Proxy:            http.ProxyFromEnvironment,
			NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				d := net.Dialer{}
				conn, err := d.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				if tc, ok := conn.(*net.TCPConn); ok {
					tc.SetNoDelay(true)
				}
				return conn, nil
			},
		},
	}, nil
}

func realtimeURL(endpoint, deployment, apiVersion string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("azure endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid azure endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("invalid azure endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid azure endpoint: missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/openai/realtime"
	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("deployment", deployment)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects, authenticates with the api-key header and sends session.update
func (d *AzureDialer) Dial(ctx context.Context, cfg SessionConfig) (Upstream, error) {
	payload, err := cfg.UpdateMessage()
	if err != nil {
		return nil, NewError(ErrorStatusConnection, "failed to encode session configuration", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("api-key", d.apiKey)

	conn, resp, err := d.dialer.DialContext(dialCtx, d.url, header)
	if err != nil {
		upErr := NewError(ErrorStatusConnection, "failed to connect", err)
		if resp != nil {
			upErr.Code = resp.StatusCode
		}
		return nil, upErr
	}

	ws := newWSConn(conn, d.writeTimeout)
	if err := ws.write(websocket.TextMessage, payload); err != nil {
		ws.Close()
		return nil, NewError(ErrorStatusConnection, "failed to send session configuration", err)
	}
	return ws, nil
}

// wsConn is an upstream session over a plain realtime websocket
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(maxEventSize)
	return &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) Send(ctx context.Context, frame Frame) error {
	if c.closed.Load() {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return NewError(ErrorStatusSend, "session context done", err)
	}
	if err := c.write(frame.MessageType, frame.Data); err != nil {
		if c.closed.Load() {
			return ErrNotOpen
		}
		return NewError(ErrorStatusSend, "failed to write frame", err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Event, error) {
	if c.closed.Load() {
		return Event{}, ErrClosed
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, NewError(ErrorStatusClosed, "read failed", err)
	}
	env, err := messages.DecodeEnvelope(data)
	if err != nil {
		return Event{}, NewError(ErrorStatusProtocol, "malformed upstream event", err)
	}
	return Event{Type: env.Type, ResponseID: env.ResponseID, Raw: data}, nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
