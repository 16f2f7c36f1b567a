package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/room4-2/VoiceRelay"

// Turn outcomes
const (
	OutcomeAudio    = "audio"
	OutcomeTextOnly = "text_only"
	OutcomeSkipped  = "skipped"
)

// Instruments are the relay's metrics
type Instruments struct {
	sessionsActive     metric.Int64UpDownCounter
	sessionsTotal      metric.Int64Counter
	turns              metric.Int64Counter
	synthesisErrors    metric.Int64Counter
	synthesisDuration  metric.Float64Histogram
	upstreamDialErrors metric.Int64Counter
}

// NewInstruments creates the relay instruments on the given provider
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)
	i := &Instruments{}
	var err error

	if i.sessionsActive, err = meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("Sessions currently relaying")); err != nil {
		return nil, fmt.Errorf("create sessions.active: %w", err)
	}
	if i.sessionsTotal, err = meter.Int64Counter("relay.sessions.total",
		metric.WithDescription("Sessions started")); err != nil {
		return nil, fmt.Errorf("create sessions.total: %w", err)
	}
	if i.turns, err = meter.Int64Counter("relay.turns",
		metric.WithDescription("Completed assistant turns by outcome")); err != nil {
		return nil, fmt.Errorf("create turns: %w", err)
	}
	if i.synthesisErrors, err = meter.Int64Counter("relay.synthesis.errors",
		metric.WithDescription("Failed synthesis calls by status")); err != nil {
		return nil, fmt.Errorf("create synthesis.errors: %w", err)
	}
	if i.synthesisDuration, err = meter.Float64Histogram("relay.synthesis.duration",
		metric.WithDescription("Time from synthesis request to last audio chunk"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create synthesis.duration: %w", err)
	}
	if i.upstreamDialErrors, err = meter.Int64Counter("relay.upstream.dial.errors",
		metric.WithDescription("Failed upstream handshakes")); err != nil {
		return nil, fmt.Errorf("create upstream.dial.errors: %w", err)
	}
	return i, nil
}

// NopInstruments records nothing
func NopInstruments() *Instruments {
	i, _ := NewInstruments(noop.NewMeterProvider())
	return i
}

func (i *Instruments) SessionStarted(ctx context.Context, client string) {
	i.sessionsActive.Add(ctx, 1)
	i.sessionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("client", client)))
}

func (i *Instruments) SessionEnded(ctx context.Context) {
	i.sessionsActive.Add(ctx, -1)
}

func (i *Instruments) TurnCompleted(ctx context.Context, outcome string) {
	i.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *Instruments) SynthesisFailed(ctx context.Context, status string) {
	i.synthesisErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (i *Instruments) SynthesisFinished(ctx context.Context, elapsed time.Duration) {
	i.synthesisDuration.Record(ctx, elapsed.Seconds())
}

func (i *Instruments) DialFailed(ctx context.Context) {
	i.upstreamDialErrors.Add(ctx, 1)
}
