package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/messages"
)

// mockRealtimeServer accepts one connection, hands the first message (session.update)
// to onConfig, then runs script with the connection.
func mockRealtimeServer(t *testing.T, onConfig func(r *http.Request, msg []byte), script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Logf("read config error: %v", err)
			return
		}
		if onConfig != nil {
			onConfig(r, msg)
		}
		if script != nil {
			script(conn)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestDialer(t *testing.T, serverURL, apiKey string) *AzureDialer {
	t.Helper()
	dialer, err := NewAzureDialer(AzureOptions{
		Endpoint:    serverURL,
		APIKey:      apiKey,
		Deployment:  "gpt-4o-realtime",
		APIVersion:  "2025-04-01-preview",
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewAzureDialer: %v", err)
	}
	return dialer
}

func testSessionConfig() SessionConfig {
	return NewSessionConfig(config.DefaultProfile(), AudioFormatPCM16)
}

func TestRealtimeURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "example.openai.azure.com", want: "wss://example.openai.azure.com/openai/realtime?api-version=v1&deployment=d"},
		{endpoint: "https://example.openai.azure.com/", want: "wss://example.openai.azure.com/openai/realtime?api-version=v1&deployment=d"},
		{endpoint: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/openai/realtime?api-version=v1&deployment=d"},
		{endpoint: "", wantErr: true},
		{endpoint: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := realtimeURL(tt.endpoint, "d", "v1")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewAzureDialerRequiresKey(t *testing.T) {
	if _, err := NewAzureDialer(AzureOptions{Endpoint: "example.com"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestDialSendsSessionUpdateFirst(t *testing.T) {
	got := make(chan []byte, 1)
	var query string
	server := mockRealtimeServer(t, func(r *http.Request, msg []byte) {
		query = r.URL.RawQuery
		got <- msg
	}, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	up, err := newTestDialer(t, server.URL, "test-key").Dial(context.Background(), testSessionConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer up.Close()

	select {
	case msg := <-got:
		s := string(msg)
		for _, want := range []string{
			`"type":"session.update"`,
			`"modalities":["text"]`,
			`"input_audio_format":"pcm16"`,
			`"type":"server_vad"`,
			`"silence_duration_ms":4000`,
			`"model":"whisper-1"`,
		} {
			if !strings.Contains(s, want) {
				t.Errorf("expected %s in %s", want, s)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session.update")
	}

	if !strings.Contains(query, "deployment=gpt-4o-realtime") {
		t.Errorf("unexpected query %q", query)
	}
}

func TestDialAuthFailure(t *testing.T) {
	server := mockRealtimeServer(t, nil, nil)

	_, err := newTestDialer(t, server.URL, "wrong-key").Dial(context.Background(), testSessionConfig())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsErrorStatus(err, ErrorStatusConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	upErr := err.(*Error)
	if upErr.Code != http.StatusUnauthorized {
		t.Errorf("expected code 401, got %d", upErr.Code)
	}
}

func TestDialUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestDialer(t, url, "test-key").Dial(context.Background(), testSessionConfig())
	if !IsErrorStatus(err, ErrorStatusConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestReceiveEvents(t *testing.T) {
	server := mockRealtimeServer(t, nil, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","response_id":"r1","delta":"Hey "}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})

	up, err := newTestDialer(t, server.URL, "test-key").Dial(context.Background(), testSessionConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer up.Close()
	ctx := context.Background()

	event, err := up.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if event.Type != messages.TypeTextDelta || event.ResponseID != "r1" {
		t.Errorf("unexpected event %+v", event)
	}
	if string(event.Raw) != `{"type":"response.text.delta","response_id":"r1","delta":"Hey "}` {
		t.Errorf("raw payload changed: %s", event.Raw)
	}

	if _, err := up.Receive(ctx); !IsErrorStatus(err, ErrorStatusProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}

	if _, err := up.Receive(ctx); !IsErrorStatus(err, ErrorStatusClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
}

func TestSendForwardsFramesVerbatim(t *testing.T) {
	received := make(chan []byte, 2)
	server := mockRealtimeServer(t, nil, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})

	up, err := newTestDialer(t, server.URL, "test-key").Dial(context.Background(), testSessionConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer up.Close()

	frame := []byte(`{"type":"input_audio_buffer.append","audio":"AAAA"}`)
	if err := up.Send(context.Background(), Frame{MessageType: websocket.TextMessage, Data: frame}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != string(frame) {
			t.Errorf("expected %s, got %s", frame, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestCloseIsIdempotentAndUnblocksReceive(t *testing.T) {
	server := mockRealtimeServer(t, nil, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	up, err := newTestDialer(t, server.URL, "test-key").Dial(context.Background(), testSessionConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := up.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	up.Close()
	up.Close()

	select {
	case err := <-errCh:
		if !IsErrorStatus(err, ErrorStatusClosed) {
			t.Errorf("expected connection closed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}

	err = up.Send(context.Background(), Frame{MessageType: websocket.TextMessage, Data: []byte(`{}`)})
	if !IsErrorStatus(err, ErrorStatusSend) {
		t.Errorf("expected send error after close, got %v", err)
	}
}
