package session

import (
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/messages"
	"github.com/room4-2/VoiceRelay/upstream"
)

// ClientKind identifies the protocol spoken on the client leg
type ClientKind string

const (
	ClientBrowser ClientKind = "browser"
	ClientTwilio  ClientKind = "twilio"
)

// InputAudioFormat is the upstream input format for audio sent by this kind of client
func (k ClientKind) InputAudioFormat() string {
	if k == ClientTwilio {
		return upstream.AudioFormatG711ULaw
	}
	return upstream.AudioFormatPCM16
}

// Output is one event the relay sends toward the client, before client encoding
type Output struct {
	Type       string
	ResponseID string
	Text       string
	Audio      []byte
	Raw        []byte // passthrough payload, forwarded as is
}

type clientFrame struct {
	messageType int
	data        []byte
}

// ClientCodec adapts one client protocol to the realtime event schema
type ClientCodec interface {
	// Inbound maps a client frame to upstream frames. done ends the client loop.
	Inbound(messageType int, data []byte) (frames []upstream.Frame, done bool)
	// Outbound maps relay output to client frames. A nil result drops the output.
	Outbound(out Output) ([]clientFrame, error)
}

func newCodec(kind ClientKind, sessionID string) ClientCodec {
	if kind == ClientTwilio {
		return &twilioCodec{sessionID: sessionID}
	}
	return browserCodec{}
}

// browserCodec forwards client frames verbatim and emits realtime-schema JSON
type browserCodec struct{}

func (browserCodec) Inbound(messageType int, data []byte) ([]upstream.Frame, bool) {
	return []upstream.Frame{{MessageType: messageType, Data: data}}, false
}

func (browserCodec) Outbound(out Output) ([]clientFrame, error) {
	if out.Raw != nil {
		return []clientFrame{{messageType: websocket.TextMessage, data: out.Raw}}, nil
	}

	var event any
	switch out.Type {
	case messages.TypeTranscriptDelta:
		event = messages.NewTranscriptDelta(out.ResponseID, out.Text)
	case messages.TypeTranscriptDone:
		event = messages.NewTranscriptDone(out.ResponseID, out.Text)
	case messages.TypeAudioDelta:
		event = messages.NewAudioDelta(out.ResponseID, out.Audio)
	case messages.TypeAudioDone:
		event = messages.NewAudioDone(out.ResponseID)
	case messages.TypeResponseDone:
		event = messages.NewResponseDone(out.ResponseID)
	default:
		return nil, fmt.Errorf("no client encoding for %q", out.Type)
	}

	data, err := messages.Encode(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.Type, err)
	}
	return []clientFrame{{messageType: websocket.TextMessage, data: data}}, nil
}

// twilioCodec speaks Twilio Media Streams. Audio is mu-law 8kHz in both directions.
type twilioCodec struct {
	sessionID string

	mu        sync.RWMutex
	streamSid string
}

func (c *twilioCodec) StreamSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSid
}

func (c *twilioCodec) Inbound(messageType int, data []byte) ([]upstream.Frame, bool) {
	var frame messages.TwilioFrame
	if err := messages.Decode(data, &frame); err != nil {
		log.Printf("⚠️ [%s] Failed to parse Twilio message: %v", shortID(c.sessionID), err)
		return nil, false
	}

	switch frame.Event {
	case messages.TwilioConnected:
		log.Printf("📞 [%s] Twilio stream connected", shortID(c.sessionID))

	case messages.TwilioStart:
		if frame.Start == nil || frame.Start.StreamSid == "" {
			log.Printf("⚠️ [%s] Twilio 'start' event missing streamSid", shortID(c.sessionID))
			return nil, false
		}
		c.mu.Lock()
		c.streamSid = frame.Start.StreamSid
		c.mu.Unlock()
		log.Printf("📞 [%s] Twilio stream started, StreamSid: %s", shortID(c.sessionID), frame.Start.StreamSid)

	case messages.TwilioMedia:
		if frame.Media == nil || frame.Media.Payload == "" {
			return nil, false
		}
		// the payload is already base64 mu-law, which the upstream accepts as g711_ulaw
		event, err := messages.Encode(messages.NewAudioAppend(frame.Media.Payload))
		if err != nil {
			log.Printf("⚠️ [%s] Failed to encode Twilio audio: %v", shortID(c.sessionID), err)
			return nil, false
		}
		return []upstream.Frame{{MessageType: websocket.TextMessage, Data: event}}, false

	case messages.TwilioStop:
		log.Printf("📞 [%s] Twilio stream stopped", shortID(c.sessionID))
		return nil, true

	case messages.TwilioMark:
		// playback position reports, informational only

	default:
		log.Printf("⚠️ [%s] Unknown Twilio event: %s", shortID(c.sessionID), frame.Event)
	}
	return nil, false
}

func (c *twilioCodec) Outbound(out Output) ([]clientFrame, error) {
	var event any
	switch out.Type {
	case messages.TypeAudioDelta, messages.TypeAudioDone, messages.TypeSpeechStarted:
	default:
		// transcripts and other realtime events have no Twilio equivalent
		return nil, nil
	}

	streamSid := c.StreamSid()
	if streamSid == "" {
		log.Printf("⚠️ [%s] Dropping %s, no StreamSid set yet", shortID(c.sessionID), out.Type)
		return nil, nil
	}

	switch out.Type {
	case messages.TypeAudioDelta:
		event = messages.NewTwilioMessageBack(streamSid, base64.StdEncoding.EncodeToString(out.Audio))
	case messages.TypeAudioDone:
		name := out.ResponseID
		if name == "" {
			name = "response"
		}
		event = messages.NewTwilioMark(streamSid, name)
	case messages.TypeSpeechStarted:
		// caller barged in, drop what Twilio has not played yet
		event = messages.NewTwilioClear(streamSid)
	}

	data, err := messages.Encode(event)
	if err != nil {
		return nil, fmt.Errorf("encode twilio %s: %w", out.Type, err)
	}
	return []clientFrame{{messageType: websocket.TextMessage, data: data}}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
