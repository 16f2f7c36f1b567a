package synth

import "go.opentelemetry.io/otel"

const scopeName = "github.com/room4-2/VoiceRelay/synth"

var tracer = otel.Tracer(scopeName)
