package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/room4-2/VoiceRelay/messages"
)

const geminiInputMIMEType = "audio/pcm;rate=16000"

// GeminiOptions configures the Gemini Live backend
type GeminiOptions struct {
	APIKey string
	Model  string
}

// GeminiDialer opens Gemini Live sessions and speaks the realtime event schema over them
type GeminiDialer struct {
	client *genai.Client
	model  string
}

// NewGeminiDialer creates the GenAI client shared by all sessions
func NewGeminiDialer(ctx context.Context, opts GeminiOptions) (*GeminiDialer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiDialer{client: client, model: opts.Model}, nil
}

// Dial connects to the Live API. The session configuration travels in the setup message.
func (d *GeminiDialer) Dial(ctx context.Context, cfg SessionConfig) (Upstream, error) {
	session, err := d.client.Live.Connect(ctx, d.model, liveConfig(cfg))
	if err != nil {
		return nil, NewError(ErrorStatusConnection, "failed to connect to Live API", err)
	}
	log.Printf("✅ Connected to Gemini Live (%s)", d.model)
	return newGeminiSession(session, d.model, cfg.InputAudioFormat), nil
}

func liveConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		Temperature:        genai.Ptr(float32(cfg.Temperature)),
		MaxOutputTokens:    int32(cfg.MaxResponseOutputTokens),
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.InputAudioTranscription != nil {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if td := cfg.TurnDetection; td != nil {
		lc.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				PrefixPaddingMs:   genai.Ptr(int32(td.PrefixPaddingMs)),
				SilenceDurationMs: genai.Ptr(int32(td.SilenceDurationMs)),
			},
		}
	}
	return lc
}

// liveSession is the part of *genai.Session the backend uses
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	Close() error
}

type geminiSession struct {
	live        liveSession
	model       string
	inputFormat string

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// receive side, owned by the single Receive caller
	pending    []Event
	responseID string
	transcript strings.Builder
}

func newGeminiSession(live liveSession, model, inputFormat string) *geminiSession {
	return &geminiSession{
		live:        live,
		model:       model,
		inputFormat: inputFormat,
	}
}

// Send translates one realtime client event into Live input.
// Events with no Live equivalent are dropped.
func (s *geminiSession) Send(ctx context.Context, frame Frame) error {
	if s.closed.Load() {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return NewError(ErrorStatusSend, "session context done", err)
	}

	if frame.MessageType == websocket.BinaryMessage {
		return s.sendAudio(frame.Data)
	}

	var event messages.ClientEvent
	if err := messages.Decode(frame.Data, &event); err != nil {
		log.Printf("⚠️ Dropping undecodable client event for Gemini: %v", err)
		return nil
	}

	switch event.Type {
	case messages.TypeAudioAppend:
		audio, err := base64.StdEncoding.DecodeString(event.Audio)
		if err != nil {
			log.Printf("⚠️ Dropping audio with invalid base64: %v", err)
			return nil
		}
		if s.inputFormat == AudioFormatG711ULaw {
			audio = MuLawToPCM16k(audio)
		}
		return s.sendAudio(audio)

	case messages.TypeAudioCommit:
		return s.send("audio stream end", func() error {
			return s.live.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
		})

	case messages.TypeItemCreate:
		text := event.Item.Text()
		if text == "" {
			return nil
		}
		return s.send("client content", func() error {
			return s.live.SendClientContent(genai.LiveClientContentInput{
				Turns: []*genai.Content{
					{Role: "user", Parts: []*genai.Part{{Text: text}}},
				},
				TurnComplete: genai.Ptr(true),
			})
		})

	default:
		// session.update and response.create have no Live equivalent
		return nil
	}
}

func (s *geminiSession) sendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.send("audio", func() error {
		return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{MIMEType: geminiInputMIMEType, Data: pcm},
		})
	})
}

func (s *geminiSession) send(what string, fn func() error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return ErrNotOpen
	}
	if err := fn(); err != nil {
		return NewError(ErrorStatusSend, "failed to send "+what, err)
	}
	return nil
}

// Receive returns the next translated event. Not safe for concurrent callers.
func (s *geminiSession) Receive(ctx context.Context) (Event, error) {
	for {
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			return event, nil
		}
		if s.closed.Load() {
			return Event{}, ErrClosed
		}

		msg, err := s.live.Receive()
		if err != nil {
			return Event{}, NewError(ErrorStatusClosed, "receive failed", err)
		}
		if err := s.translate(msg); err != nil {
			return Event{}, NewError(ErrorStatusProtocol, "failed to translate Live message", err)
		}
	}
}

func (s *geminiSession) translate(msg *genai.LiveServerMessage) error {
	if msg == nil {
		return nil
	}

	if msg.SetupComplete != nil {
		if err := s.emit(messages.TypeSessionCreated, "", messages.SessionCreated{
			Type:    messages.TypeSessionCreated,
			Session: messages.SessionInfo{ID: "sess_" + uuid.NewString(), Model: s.model},
		}); err != nil {
			return err
		}
	}

	if msg.GoAway != nil {
		log.Printf("⚠️ Gemini Live requested disconnect")
	}

	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	if sc.InputTranscription != nil {
		s.transcript.WriteString(sc.InputTranscription.Text)
		if sc.InputTranscription.Finished {
			if err := s.flushTranscript(); err != nil {
				return err
			}
		}
	}

	if sc.Interrupted {
		if err := s.emit(messages.TypeSpeechStarted, "", messages.Marker{Type: messages.TypeSpeechStarted}); err != nil {
			return err
		}
		if err := s.finishTurn(); err != nil {
			return err
		}
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			if s.responseID == "" {
				// the model answering means the user's turn is over
				if err := s.flushTranscript(); err != nil {
					return err
				}
				s.responseID = "resp_" + uuid.NewString()
			}
			if err := s.emit(messages.TypeTextDelta, s.responseID, messages.TextDelta{
				Type:       messages.TypeTextDelta,
				ResponseID: s.responseID,
				Delta:      part.Text,
			}); err != nil {
				return err
			}
		}
	}

	if sc.TurnComplete {
		return s.finishTurn()
	}
	return nil
}

func (s *geminiSession) finishTurn() error {
	if s.responseID == "" {
		return nil
	}
	id := s.responseID
	s.responseID = ""
	return s.emit(messages.TypeTextDone, id, messages.TextDone{Type: messages.TypeTextDone, ResponseID: id})
}

func (s *geminiSession) flushTranscript() error {
	text := strings.TrimSpace(s.transcript.String())
	s.transcript.Reset()
	if text == "" {
		return nil
	}
	return s.emit(messages.TypeInputTranscriptionCompleted, "", messages.InputTranscriptionCompleted{
		Type:       messages.TypeInputTranscriptionCompleted,
		ItemID:     "item_" + uuid.NewString(),
		Transcript: text,
	})
}

func (s *geminiSession) emit(eventType, responseID string, v any) error {
	raw, err := messages.Encode(v)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Type: eventType, ResponseID: responseID, Raw: raw})
	return nil
}

func (s *geminiSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.live.Close()
	})
	return s.closeErr
}
