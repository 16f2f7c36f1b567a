package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultInstructions = `You are a friendly voice companion talking with someone in real time.

This is a live voice conversation. Keep every answer short and natural: one or two
sentences, then hand the turn back with a question.

- Never monologue. Never lecture.
- Answer in plain spoken language, no lists or markdown.
- If the user goes quiet, offer a light suggestion to keep things moving.
- If you do not know something, say so honestly.`

// Profile is the per-deployment session payload sent upstream once per session.
// It is read once at start and never mutated afterwards.
type Profile struct {
	Instructions       string        `yaml:"instructions"`
	TranscriptionModel string        `yaml:"transcription_model"`
	TurnDetection      TurnDetection `yaml:"turn_detection"`
	Temperature        float64       `yaml:"temperature"`
	MaxOutputTokens    int           `yaml:"max_output_tokens"`
	Voice              VoiceSettings `yaml:"voice"`
}

// TurnDetection holds server-side voice activity detection thresholds
type TurnDetection struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// VoiceSettings are the synthesis voice parameters
type VoiceSettings struct {
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	Speed           float64 `yaml:"speed"`
}

// DefaultProfile returns the built-in session profile
func DefaultProfile() Profile {
	return Profile{
		Instructions:       defaultInstructions,
		TranscriptionModel: "whisper-1",
		TurnDetection: TurnDetection{
			Threshold:         0.7,
			PrefixPaddingMs:   500,
			SilenceDurationMs: 4000,
		},
		Temperature:     0.9,
		MaxOutputTokens: 500,
		Voice: VoiceSettings{
			Stability:       0.55,
			SimilarityBoost: 0.75,
			Speed:           0.9,
		},
	}
}

// LoadProfile reads a YAML profile. Keys missing from the file keep their defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read session profile %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("parse session profile %q: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, fmt.Errorf("session profile %q: %w", path, err)
	}
	return profile, nil
}

// Validate checks value ranges accepted by the upstream and the voice service
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Instructions) == "" {
		return fmt.Errorf("instructions must not be empty")
	}
	if p.TurnDetection.Threshold < 0 || p.TurnDetection.Threshold > 1 {
		return fmt.Errorf("turn_detection.threshold must be within [0, 1], got %v", p.TurnDetection.Threshold)
	}
	if p.TurnDetection.PrefixPaddingMs < 0 || p.TurnDetection.SilenceDurationMs < 0 {
		return fmt.Errorf("turn_detection durations must not be negative")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", p.Temperature)
	}
	if p.MaxOutputTokens <= 0 {
		return fmt.Errorf("max_output_tokens must be positive, got %d", p.MaxOutputTokens)
	}
	if p.Voice.Stability < 0 || p.Voice.Stability > 1 || p.Voice.SimilarityBoost < 0 || p.Voice.SimilarityBoost > 1 {
		return fmt.Errorf("voice stability and similarity_boost must be within [0, 1]")
	}
	return nil
}
