package messages

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Upstream event tags
const (
	TypeTextDelta                   = "response.text.delta"
	TypeTextDone                    = "response.text.done"
	TypeAudioDelta                  = "response.audio.delta"
	TypeAudioDone                   = "response.audio.done"
	TypeTranscriptDelta             = "response.audio_transcript.delta"
	TypeTranscriptDone              = "response.audio_transcript.done"
	TypeResponseDone                = "response.done"
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeError                       = "error"
)

// Client event tags
const (
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeAudioCommit    = "input_audio_buffer.commit"
	TypeItemCreate     = "conversation.item.create"
	TypeResponseCreate = "response.create"
)

// ErrMissingType is returned for payloads without a string "type" field
var ErrMissingType = errors.New("event has no type")

var passthrough = map[string]struct{}{
	TypeSessionCreated:              {},
	TypeSessionUpdated:              {},
	TypeSpeechStarted:               {},
	TypeSpeechStopped:               {},
	TypeInputTranscriptionCompleted: {},
	TypeError:                       {},
}

// IsPassthrough reports whether an upstream event is forwarded to the client unchanged
func IsPassthrough(eventType string) bool {
	_, ok := passthrough[eventType]
	return ok
}

// Envelope is the part of every realtime event the relay routes on
type Envelope struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// DecodeEnvelope reads the type tag of a raw event.
// Anything that is not a JSON object with a string type is rejected.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// TextDelta is an incremental fragment of assistant text
type TextDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// TextDone terminates an assistant text turn
type TextDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text,omitempty"`
}

// InputTranscriptionCompleted carries the transcript of the user's speech
type InputTranscriptionCompleted struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
}

// SessionCreated is synthesized by backends that have no native equivalent
type SessionCreated struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

// SessionInfo identifies an upstream session
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

// Decode unmarshals a raw event into v
func Decode(raw []byte, v any) error {
	return sonic.Unmarshal(raw, v)
}

// Encode marshals an event for the wire
func Encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}
