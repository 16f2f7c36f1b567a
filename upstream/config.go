package upstream

import (
	"github.com/room4-2/VoiceRelay/config"
	"github.com/room4-2/VoiceRelay/messages"
)

// Input audio formats
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711ULaw = "g711_ulaw"
)

// SessionConfig is sent once as the first upstream message of every session
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	InputAudioFormat        string         `json:"input_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Temperature             float64        `json:"temperature"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// NewSessionConfig builds a text-only session configuration from a profile
func NewSessionConfig(profile config.Profile, inputAudioFormat string) SessionConfig {
	cfg := SessionConfig{
		Modalities:       []string{"text"},
		Instructions:     profile.Instructions,
		InputAudioFormat: inputAudioFormat,
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         profile.TurnDetection.Threshold,
			PrefixPaddingMs:   profile.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: profile.TurnDetection.SilenceDurationMs,
		},
		Temperature:             profile.Temperature,
		MaxResponseOutputTokens: profile.MaxOutputTokens,
	}
	if profile.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &Transcription{Model: profile.TranscriptionModel}
	}
	return cfg
}

// UpdateMessage encodes the session.update event carrying this configuration
func (c SessionConfig) UpdateMessage() ([]byte, error) {
	return messages.Encode(sessionUpdate{Type: messages.TypeSessionUpdate, Session: c})
}
