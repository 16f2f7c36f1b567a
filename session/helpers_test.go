package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/bus"
	"github.com/room4-2/VoiceRelay/messages"
	"github.com/room4-2/VoiceRelay/synth"
	"github.com/room4-2/VoiceRelay/upstream"
)

// fakeUpstream is scripted through channels. Closing events ends the upstream
// like a remote close, an error on failures is returned from Receive.
type fakeUpstream struct {
	events   chan upstream.Event
	failures chan error
	sent     chan upstream.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events:   make(chan upstream.Event, 64),
		failures: make(chan error, 1),
		sent:     make(chan upstream.Frame, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeUpstream) Send(ctx context.Context, frame upstream.Frame) error {
	select {
	case <-f.closed:
		return upstream.ErrNotOpen
	default:
	}
	select {
	case f.sent <- frame:
		return nil
	case <-f.closed:
		return upstream.ErrNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeUpstream) Receive(ctx context.Context) (upstream.Event, error) {
	select {
	case event, ok := <-f.events:
		if !ok {
			return upstream.Event{}, upstream.ErrClosed
		}
		return event, nil
	case err := <-f.failures:
		return upstream.Event{}, err
	case <-f.closed:
		return upstream.Event{}, upstream.ErrClosed
	}
}

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeUpstream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeSynth returns audio for every call, or err when set
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (*synth.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return synth.NewBufferStream(f.audio, 2), nil
}

func (f *fakeSynth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingPublisher struct {
	mu          sync.Mutex
	transcripts []bus.Transcript
}

func (p *recordingPublisher) PublishTranscript(t bus.Transcript) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts = append(p.transcripts, t)
	return nil
}

func (p *recordingPublisher) All() []bus.Transcript {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Transcript(nil), p.transcripts...)
}

func textDelta(responseID, delta string) upstream.Event {
	return rawEvent(fmt.Sprintf(`{"type":%q,"response_id":%q,"delta":%q}`, messages.TypeTextDelta, responseID, delta))
}

func textDone(responseID string) upstream.Event {
	return rawEvent(fmt.Sprintf(`{"type":%q,"response_id":%q}`, messages.TypeTextDone, responseID))
}

func rawEvent(raw string) upstream.Event {
	env, err := messages.DecodeEnvelope([]byte(raw))
	if err != nil {
		panic(err)
	}
	return upstream.Event{Type: env.Type, ResponseID: env.ResponseID, Raw: []byte(raw)}
}

// wsPair returns the server side of a live websocket and the client dialed to it
func wsPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case serverConn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
	}
	return serverConn, client
}

type startedSession struct {
	session  *ClientSession
	client   *websocket.Conn
	upstream *fakeUpstream
}

func startSession(t *testing.T, kind ClientKind, synthesizer synth.Synthesizer) startedSession {
	t.Helper()
	serverConn, client := wsPair(t)
	up := newFakeUpstream()
	cs := NewClientSession("3f2a9c1e-test-session", kind, serverConn, up, Options{Synthesizer: synthesizer})
	cs.Start()
	t.Cleanup(func() {
		cs.Close()
		waitClosed(t, cs)
	})
	return startedSession{session: cs, client: client, upstream: up}
}

func waitClosed(t *testing.T, cs *ClientSession) {
	t.Helper()
	select {
	case <-cs.CloseChan:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
}

type clientEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	raw        []byte
}

// readUntil reads client events up to and including one of the given type
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) []clientEvent {
	t.Helper()
	var events []clientEvent
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for %s (got %v): %v", eventType, eventTypes(events), err)
		}
		var event clientEvent
		if err := messages.Decode(data, &event); err != nil {
			t.Fatalf("client received invalid JSON %s: %v", data, err)
		}
		event.raw = data
		events = append(events, event)
		if event.Type == eventType {
			return events
		}
	}
}

func eventTypes(events []clientEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func expectSent(t *testing.T, up *fakeUpstream) upstream.Frame {
	t.Helper()
	select {
	case frame := <-up.sent:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upstream frame")
		return upstream.Frame{}
	}
}
