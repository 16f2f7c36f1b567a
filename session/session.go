package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/VoiceRelay/bus"
	"github.com/room4-2/VoiceRelay/synth"
	"github.com/room4-2/VoiceRelay/telemetry"
	"github.com/room4-2/VoiceRelay/upstream"
)

const maxClientMessageSize = 512 * 1024

// State is the lifecycle of a session
type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options are the collaborators of one session
type Options struct {
	Synthesizer synth.Synthesizer
	Transcripts bus.Publisher
	Metrics     *telemetry.Instruments
	KeepAlive   time.Duration
}

// ClientSession relays one client connection to one upstream session
type ClientSession struct {
	ID        string
	Kind      ClientKind
	CreatedAt time.Time

	clientConn *websocket.Conn
	upstream   upstream.Upstream
	codec      ClientCodec
	translator *translator
	keepAlive  time.Duration

	writeChan chan clientFrame

	state        atomic.Int32
	lastActivity atomic.Int64

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession wraps an accepted client connection and an open upstream.
// The session is ACTIVE but relays nothing until Start.
func NewClientSession(id string, kind ClientKind, clientConn *websocket.Conn, up upstream.Upstream, opts Options) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NopInstruments()
	}

	clientConn.SetReadLimit(maxClientMessageSize)
	if kind == ClientBrowser {
		clientConn.EnableWriteCompression(true)
		clientConn.SetCompressionLevel(6)
	}

	cs := &ClientSession{
		ID:         id,
		Kind:       kind,
		CreatedAt:  time.Now(),
		clientConn: clientConn,
		upstream:   up,
		codec:      newCodec(kind, id),
		keepAlive:  opts.KeepAlive,
		writeChan:  make(chan clientFrame, writeBufferSize),
		CloseChan:  make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	cs.translator = newTranslator(id, opts.Synthesizer, opts.Metrics, opts.Transcripts, cs.deliver)
	cs.touch()
	return cs
}

// State returns the current lifecycle state
func (cs *ClientSession) State() State {
	return State(cs.state.Load())
}

// LastActivity is the time of the last frame received from either leg
func (cs *ClientSession) LastActivity() time.Time {
	return time.Unix(0, cs.lastActivity.Load())
}

func (cs *ClientSession) touch() {
	cs.lastActivity.Store(time.Now().UnixNano())
}

// Start begins the bidirectional relay
func (cs *ClientSession) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.started || cs.State() != StateActive {
		return
	}
	cs.started = true
	go cs.run()
}

func (cs *ClientSession) run() {
	defer cs.finish()

	if cs.keepAlive > 0 {
		cs.clientConn.SetReadDeadline(time.Now().Add(2 * cs.keepAlive))
		cs.clientConn.SetPongHandler(func(string) error {
			cs.clientConn.SetReadDeadline(time.Now().Add(2 * cs.keepAlive))
			return nil
		})
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		cs.writePump()
	}()

	g, ctx := errgroup.WithContext(cs.ctx)
	g.Go(func() error {
		defer cs.beginClose()
		return cs.clientLoop(ctx)
	})
	g.Go(func() error {
		defer cs.beginClose()
		// nothing else writes to the client, so the pump can drain and stop
		defer close(cs.writeChan)
		return cs.upstreamLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		cs.beginClose()
		cs.upstream.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ [%s] Session ended with error: %v", shortID(cs.ID), err)
	}
	<-pumpDone
	log.Printf("🔌 [%s] Session closed (%s, %s)", shortID(cs.ID), cs.Kind, time.Since(cs.CreatedAt).Round(time.Second))
}

// clientLoop forwards client frames upstream until the client goes away
func (cs *ClientSession) clientLoop(ctx context.Context) error {
	for {
		messageType, data, err := cs.clientConn.ReadMessage()
		if err != nil {
			if cs.State() == StateActive && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("❌ [%s] Client read error: %v", shortID(cs.ID), err)
			}
			return nil
		}
		cs.touch()
		if cs.keepAlive > 0 {
			cs.clientConn.SetReadDeadline(time.Now().Add(2 * cs.keepAlive))
		}

		frames, done := cs.codec.Inbound(messageType, data)
		for _, frame := range frames {
			if err := cs.upstream.Send(ctx, frame); err != nil {
				if cs.State() != StateActive {
					return nil
				}
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// upstreamLoop translates upstream events until the upstream closes
func (cs *ClientSession) upstreamLoop(ctx context.Context) error {
	for {
		event, err := cs.upstream.Receive(ctx)
		if err != nil {
			if upstream.IsErrorStatus(err, upstream.ErrorStatusClosed) {
				if cs.State() == StateActive {
					log.Printf("🔌 [%s] Upstream closed: %v", shortID(cs.ID), err)
				}
				return nil
			}
			return err
		}
		cs.touch()

		if err := cs.translator.handle(ctx, event); err != nil {
			// only fails once the session context is done
			return nil
		}
	}
}

// beginClose moves ACTIVE to CLOSING and cancels the session context
func (cs *ClientSession) beginClose() {
	if cs.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		cs.cancel()
	}
}

func (cs *ClientSession) finish() {
	cs.closeOnce.Do(func() {
		cs.state.Store(int32(StateClosed))
		cs.cancel()
		close(cs.CloseChan)
	})
}

// Close terminates the session. A running session tears down asynchronously;
// CloseChan is closed once both connections are released.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	started := cs.started
	cs.started = true
	cs.mu.Unlock()

	if started {
		cs.beginClose()
		return nil
	}

	cs.beginClose()
	cs.upstream.Close()
	cs.clientConn.Close()
	cs.finish()
	return nil
}
