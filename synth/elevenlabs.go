package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	elevenLabsDefaultBase = "https://api.elevenlabs.io"
	defaultTimeout        = 30 * time.Second
	maxErrorBody          = 4 * 1024
)

// VoiceSettings are sent with every request
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Options configures an ElevenLabs client. Voice, model, format and settings are
// fixed for the lifetime of the client.
type Options struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string // e.g. "pcm_24000", "ulaw_8000"
	BaseURL      string
	Streaming    bool
	Timeout      time.Duration
	Voice        VoiceSettings
	ChunkSize    int
	HTTPClient   *http.Client
}

// ElevenLabs calls the ElevenLabs text-to-speech HTTP API
type ElevenLabs struct {
	opts   Options
	client *http.Client
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type elevenLabsError struct {
	Detail any `json:"detail"`
}

// NewElevenLabs validates options and creates the client
func NewElevenLabs(opts Options) (*ElevenLabs, error) {
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	opts.VoiceID = strings.TrimSpace(opts.VoiceID)
	if opts.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if opts.VoiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = elevenLabsDefaultBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	return &ElevenLabs{opts: opts, client: client}, nil
}

// WithOutputFormat returns a client sharing this one's settings with a different audio format
func (e *ElevenLabs) WithOutputFormat(format string) *ElevenLabs {
	clone := *e
	clone.opts.OutputFormat = format
	return &clone
}

// OutputFormat reports the audio format this client requests
func (e *ElevenLabs) OutputFormat() string {
	return e.opts.OutputFormat
}

func (e *ElevenLabs) endpoint() string {
	u := e.opts.BaseURL + "/v1/text-to-speech/" + url.PathEscape(e.opts.VoiceID)
	if e.opts.Streaming {
		u += "/stream"
	}
	if e.opts.OutputFormat != "" {
		u += "?output_format=" + url.QueryEscape(e.opts.OutputFormat)
	}
	return u
}

// Synthesize starts one synthesis request. The request, including reading the
// returned stream, is bounded by the client timeout.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("text.length", len(text)),
		attribute.String("voice.id", e.opts.VoiceID),
		attribute.String("output.format", e.opts.OutputFormat),
	)

	fail := func(err *Error) (*Stream, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Status))
		cancel()
		return nil, err
	}

	body, err := sonic.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.opts.ModelID,
		VoiceSettings: e.opts.Voice,
	})
	if err != nil {
		return fail(NewErrorWithCause(ErrorStatusTransport, "failed to encode request", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fail(NewErrorWithCause(ErrorStatusTransport, "failed to create request", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	req.Header.Set("xi-api-key", e.opts.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(NewErrorWithCause(ErrorStatusTransport, "request failed", err))
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return fail(MapAPIError(readErrorMessage(resp), resp.StatusCode))
	}

	return NewStream(resp.Body, e.opts.ChunkSize, cancel), nil
}

// readErrorMessage extracts detail.message, detail, or the raw body
func readErrorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}

	var apiErr elevenLabsError
	if err := sonic.Unmarshal(raw, &apiErr); err == nil {
		switch detail := apiErr.Detail.(type) {
		case string:
			if detail != "" {
				return detail
			}
		case map[string]any:
			if msg, ok := detail["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
