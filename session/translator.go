package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/room4-2/VoiceRelay/bus"
	"github.com/room4-2/VoiceRelay/messages"
	"github.com/room4-2/VoiceRelay/synth"
	"github.com/room4-2/VoiceRelay/telemetry"
	"github.com/room4-2/VoiceRelay/upstream"
)

// emitFunc delivers one output to the client. It fails once the session is ending.
type emitFunc func(ctx context.Context, out Output) error

// translator rewrites upstream events into client events.
// It runs on the upstream loop only.
type translator struct {
	sessionID   string
	synthesizer synth.Synthesizer
	metrics     *telemetry.Instruments
	transcripts bus.Publisher
	emit        emitFunc

	utterance Utterance
}

func newTranslator(sessionID string, synthesizer synth.Synthesizer, metrics *telemetry.Instruments, transcripts bus.Publisher, emit emitFunc) *translator {
	return &translator{
		sessionID:   sessionID,
		synthesizer: synthesizer,
		metrics:     metrics,
		transcripts: transcripts,
		emit:        emit,
	}
}

func (t *translator) handle(ctx context.Context, event upstream.Event) error {
	switch event.Type {
	case messages.TypeTextDelta:
		var delta messages.TextDelta
		if err := messages.Decode(event.Raw, &delta); err != nil {
			log.Printf("⚠️ [%s] Dropping malformed text delta: %v", shortID(t.sessionID), err)
			return nil
		}
		return t.textDelta(ctx, event.ResponseID, delta.Delta)

	case messages.TypeTextDone:
		return t.textDone(ctx, event.ResponseID)

	default:
		if !messages.IsPassthrough(event.Type) {
			// upstream native audio and unknown events never reach the client
			return nil
		}
		t.observe(event)
		return t.emit(ctx, Output{Type: event.Type, Raw: event.Raw})
	}
}

func (t *translator) textDelta(ctx context.Context, responseID, fragment string) error {
	// a fragment from another response completes the pending one first
	if current := t.utterance.ResponseID(); t.utterance.Pending() && responseID != "" && current != "" && current != responseID {
		log.Printf("🔀 [%s] Response %s started before %s finished, flushing", shortID(t.sessionID), responseID, current)
		if err := t.finishTurn(ctx, current); err != nil {
			return err
		}
	}

	t.utterance.Append(responseID, fragment)
	return t.emit(ctx, Output{Type: messages.TypeTranscriptDelta, ResponseID: responseID, Text: fragment})
}

// textDone ends exactly one turn. A response sends one done per text part,
// so the same response id may finish several turns in a row.
func (t *translator) textDone(ctx context.Context, responseID string) error {
	return t.finishTurn(ctx, responseID)
}

// finishTurn flushes the pending utterance and always ends with response.done
func (t *translator) finishTurn(ctx context.Context, responseID string) error {
	id, text := t.utterance.Flush()
	if id == "" {
		id = responseID
	}

	if err := t.emit(ctx, Output{Type: messages.TypeTranscriptDone, ResponseID: id, Text: text}); err != nil {
		return err
	}

	outcome := telemetry.OutcomeSkipped
	if strings.TrimSpace(text) != "" {
		t.publish(bus.RoleAssistant, text)
		var err error
		if outcome, err = t.speak(ctx, id, text); err != nil {
			return err
		}
	} else {
		log.Printf("🔇 [%s] Empty utterance, skipping synthesis", shortID(t.sessionID))
	}
	t.metrics.TurnCompleted(ctx, outcome)

	return t.emit(ctx, Output{Type: messages.TypeResponseDone, ResponseID: id})
}

// speak synthesizes text and emits its audio. Synthesis failures are logged and
// the turn continues text-only. Only emit failures are returned.
func (t *translator) speak(ctx context.Context, responseID, text string) (string, error) {
	if t.synthesizer == nil {
		return telemetry.OutcomeTextOnly, nil
	}
	start := time.Now()
	stream, err := t.synthesizer.Synthesize(ctx, text)
	if err != nil {
		t.synthesisFailed(ctx, err)
		return telemetry.OutcomeTextOnly, nil
	}
	defer stream.Close()

	chunks := 0
	bytes := 0
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.synthesisFailed(ctx, err)
			break
		}
		chunks++
		bytes += len(chunk)
		if err := t.emit(ctx, Output{Type: messages.TypeAudioDelta, ResponseID: responseID, Audio: chunk}); err != nil {
			return telemetry.OutcomeTextOnly, err
		}
	}

	if chunks == 0 {
		return telemetry.OutcomeTextOnly, nil
	}
	t.metrics.SynthesisFinished(ctx, time.Since(start))
	log.Printf("🔊 [%s] Synthesized %d bytes in %d chunks", shortID(t.sessionID), bytes, chunks)

	if err := t.emit(ctx, Output{Type: messages.TypeAudioDone, ResponseID: responseID}); err != nil {
		return telemetry.OutcomeAudio, err
	}
	return telemetry.OutcomeAudio, nil
}

func (t *translator) synthesisFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// session is ending, not a service failure
		return
	}
	status := synth.StatusOf(err)
	log.Printf("❌ [%s] Synthesis failed (%s): %v", shortID(t.sessionID), status, err)
	t.metrics.SynthesisFailed(ctx, string(status))
}

// observe logs and publishes passthrough events the relay cares about
func (t *translator) observe(event upstream.Event) {
	switch event.Type {
	case messages.TypeInputTranscriptionCompleted:
		var completed messages.InputTranscriptionCompleted
		if err := messages.Decode(event.Raw, &completed); err == nil && strings.TrimSpace(completed.Transcript) != "" {
			t.publish(bus.RoleUser, completed.Transcript)
		}
	case messages.TypeError:
		log.Printf("❌ [%s] Upstream error event: %s", shortID(t.sessionID), event.Raw)
	case messages.TypeSessionCreated:
		log.Printf("✅ [%s] Upstream session created", shortID(t.sessionID))
	}
}

func (t *translator) publish(role, text string) {
	if t.transcripts == nil {
		return
	}
	err := t.transcripts.PublishTranscript(bus.Transcript{
		SessionID: t.sessionID,
		Role:      role,
		Text:      text,
		At:        time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️ [%s] Failed to publish transcript: %v", shortID(t.sessionID), err)
	}
}
