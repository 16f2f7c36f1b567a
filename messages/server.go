package messages

import "encoding/base64"

// Error codes
const (
	ErrCodeSessionFailed = "SESSION_FAILED"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RelayErrorType marks errors raised by the relay rather than the upstream
const RelayErrorType = "relay_error"

// TranscriptDelta mirrors a text fragment to the client as a transcript
type TranscriptDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// TranscriptDone closes the transcript of an utterance
type TranscriptDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Transcript string `json:"transcript"`
}

// AudioDelta carries one base64 chunk of synthesized audio
type AudioDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// Marker is a tag-only event such as response.audio.done or response.done
type Marker struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// ErrorEvent is the relay's own error event
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewTranscriptDelta creates a response.audio_transcript.delta event
func NewTranscriptDelta(responseID, delta string) *TranscriptDelta {
	return &TranscriptDelta{Type: TypeTranscriptDelta, ResponseID: responseID, Delta: delta}
}

// NewTranscriptDone creates a response.audio_transcript.done event
func NewTranscriptDone(responseID, transcript string) *TranscriptDone {
	return &TranscriptDone{Type: TypeTranscriptDone, ResponseID: responseID, Transcript: transcript}
}

// NewAudioDelta creates a response.audio.delta event from raw audio
func NewAudioDelta(responseID string, audio []byte) *AudioDelta {
	return &AudioDelta{
		Type:       TypeAudioDelta,
		ResponseID: responseID,
		Delta:      base64.StdEncoding.EncodeToString(audio),
	}
}

// NewAudioDone creates a response.audio.done event
func NewAudioDone(responseID string) *Marker {
	return &Marker{Type: TypeAudioDone, ResponseID: responseID}
}

// NewResponseDone creates a response.done event
func NewResponseDone(responseID string) *Marker {
	return &Marker{Type: TypeResponseDone, ResponseID: responseID}
}

// NewErrorEvent creates a relay error event
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type: TypeError,
		Error: ErrorDetail{
			Type:    RelayErrorType,
			Code:    code,
			Message: message,
		},
	}
}
