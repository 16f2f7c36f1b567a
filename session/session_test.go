package session

import (
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/messages"
	"github.com/room4-2/VoiceRelay/upstream"
)

func TestRelayForwardsClientFramesVerbatim(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{})

	payloads := []struct {
		messageType int
		data        []byte
	}{
		{websocket.TextMessage, []byte(`{"type":"input_audio_buffer.append","audio":"AAECAw=="}`)},
		{websocket.TextMessage, []byte(`{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}}`)},
		{websocket.BinaryMessage, []byte{0, 1, 2, 3}},
		{websocket.TextMessage, []byte(`not even json`)},
	}
	for _, p := range payloads {
		if err := s.client.WriteMessage(p.messageType, p.data); err != nil {
			t.Fatalf("client write failed: %v", err)
		}
	}

	for i, p := range payloads {
		frame := expectSent(t, s.upstream)
		if frame.MessageType != p.messageType || string(frame.Data) != string(p.data) {
			t.Errorf("frame %d: expected (%d, %s), got (%d, %s)", i, p.messageType, p.data, frame.MessageType, frame.Data)
		}
	}
}

func TestRelayTurnEndToEnd(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{audio: []byte{10, 20, 30}})

	s.upstream.events <- rawEvent(`{"type":"session.created","session":{"id":"sess_1"}}`)
	s.upstream.events <- rawEvent(`{"type":"response.audio.delta","response_id":"resp_1","delta":"AAAA"}`)
	s.upstream.events <- textDelta("resp_1", "Hey ")
	s.upstream.events <- textDelta("resp_1", "there!")
	s.upstream.events <- textDone("resp_1")

	events := readUntil(t, s.client, messages.TypeResponseDone)
	want := []string{
		messages.TypeSessionCreated,
		messages.TypeTranscriptDelta,
		messages.TypeTranscriptDelta,
		messages.TypeTranscriptDone,
		messages.TypeAudioDelta,
		messages.TypeAudioDelta,
		messages.TypeAudioDone,
		messages.TypeResponseDone,
	}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected client events:\n got %v\nwant %v", got, want)
	}

	if string(events[0].raw) != `{"type":"session.created","session":{"id":"sess_1"}}` {
		t.Errorf("passthrough modified: %s", events[0].raw)
	}
	if events[3].Transcript != "Hey there!" {
		t.Errorf("expected transcript %q, got %q", "Hey there!", events[3].Transcript)
	}

	var audio []byte
	for _, e := range events[4:6] {
		chunk, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			t.Fatalf("audio delta is not base64: %v", err)
		}
		audio = append(audio, chunk...)
	}
	if string(audio) != string([]byte{10, 20, 30}) {
		t.Errorf("unexpected audio %v", audio)
	}
}

func TestRelayDeliversPendingOutputBeforeClose(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{audio: []byte{1, 2}})

	s.upstream.events <- textDelta("resp_1", "last words")
	s.upstream.events <- textDone("resp_1")
	close(s.upstream.events)

	readUntil(t, s.client, messages.TypeResponseDone)

	s.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := s.client.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal close frame, got %v", err)
	}

	waitClosed(t, s.session)
	if s.session.State() != StateClosed {
		t.Errorf("expected closed state, got %s", s.session.State())
	}
}

func TestTeardownOnClientClose(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{})

	s.client.Close()
	waitClosed(t, s.session)

	if !s.upstream.isClosed() {
		t.Error("upstream not closed after client left")
	}
	if s.session.State() != StateClosed {
		t.Errorf("expected closed state, got %s", s.session.State())
	}
}

func TestTeardownOnUpstreamClose(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{})

	s.upstream.Close()
	waitClosed(t, s.session)

	s.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := s.client.ReadMessage(); err == nil {
		t.Error("expected client connection to be closed")
	}
}

func TestTeardownOnUpstreamProtocolError(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{})

	s.upstream.failures <- upstream.NewError(upstream.ErrorStatusProtocol, "invalid event payload", nil)
	waitClosed(t, s.session)

	if !s.upstream.isClosed() {
		t.Error("upstream not closed after a protocol error")
	}
	s.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := s.client.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a close frame on the client, got %v", err)
	}
}

func TestCloseWhileSpeaking(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{audio: make([]byte, 1024)})

	// nobody reads the client, so the write queue eventually fills
	s.upstream.events <- textDelta("resp_1", "a long answer")
	s.upstream.events <- textDone("resp_1")
	time.Sleep(50 * time.Millisecond)

	s.session.Close()
	waitClosed(t, s.session)
	if !s.upstream.isClosed() {
		t.Error("upstream not closed")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	serverConn, _ := wsPair(t)
	up := newFakeUpstream()
	cs := NewClientSession("never-started", ClientBrowser, serverConn, up, Options{Synthesizer: &fakeSynth{}})

	cs.Close()
	waitClosed(t, cs)
	if !up.isClosed() {
		t.Error("upstream not closed")
	}

	// a closed session cannot be started
	cs.Start()
	if cs.State() != StateClosed {
		t.Errorf("expected closed state, got %s", cs.State())
	}
}

func TestLastActivityAdvances(t *testing.T) {
	s := startSession(t, ClientBrowser, &fakeSynth{})
	before := s.session.LastActivity()

	time.Sleep(10 * time.Millisecond)
	if err := s.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_audio_buffer.commit"}`)); err != nil {
		t.Fatal(err)
	}
	expectSent(t, s.upstream)

	if !s.session.LastActivity().After(before) {
		t.Error("expected last activity to advance on client traffic")
	}
}

func TestTwilioSession(t *testing.T) {
	s := startSession(t, ClientTwilio, &fakeSynth{audio: []byte{0xff, 0x7f, 0x00}})

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ123","callSid":"CA456"},"streamSid":"MZ123"}`,
		`{"event":"media","sequenceNumber":"2","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"//8="},"streamSid":"MZ123"}`,
	}
	for _, f := range frames {
		if err := s.client.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}

	var appended messages.ClientEvent
	if err := messages.Decode(expectSent(t, s.upstream).Data, &appended); err != nil {
		t.Fatal(err)
	}
	if appended.Type != messages.TypeAudioAppend || appended.Audio != "//8=" {
		t.Errorf("unexpected upstream event %+v", appended)
	}

	s.upstream.events <- rawEvent(`{"type":"input_audio_buffer.speech_started","audio_start_ms":0}`)
	s.upstream.events <- textDelta("resp_1", "Hello caller")
	s.upstream.events <- textDone("resp_1")

	var got []map[string]any
	s.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(got) < 4 {
		_, data, err := s.client.ReadMessage()
		if err != nil {
			t.Fatalf("read failed after %v: %v", got, err)
		}
		var frame map[string]any
		if err := messages.Decode(data, &frame); err != nil {
			t.Fatal(err)
		}
		got = append(got, frame)
	}

	wantEvents := []string{"clear", "media", "media", "mark"}
	for i, want := range wantEvents {
		if got[i]["event"] != want {
			t.Errorf("frame %d: expected %s, got %v", i, want, got[i])
		}
		if got[i]["streamSid"] != "MZ123" {
			t.Errorf("frame %d: missing streamSid: %v", i, got[i])
		}
	}

	if err := s.client.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ123"}`)); err != nil {
		t.Fatal(err)
	}
	waitClosed(t, s.session)
}
