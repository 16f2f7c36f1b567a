// Package synth turns assistant text into audio through a voice-synthesis service.
package synth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// DefaultChunkSize is 100ms of 24kHz 16-bit mono PCM
const DefaultChunkSize = 4800

// Synthesizer produces audio for one utterance
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Stream, error)
}

// Stream yields synthesized audio in fixed-size chunks. The last chunk may be shorter.
type Stream struct {
	body      io.ReadCloser
	chunkSize int
	cancel    context.CancelFunc

	total     int
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an audio body. cancel, if set, is called on Close.
func NewStream(body io.ReadCloser, chunkSize int, cancel context.CancelFunc) *Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Stream{
		body:      body,
		chunkSize: chunkSize,
		cancel:    cancel,
	}
}

// NewBufferStream streams audio already held in memory
func NewBufferStream(audio []byte, chunkSize int) *Stream {
	return NewStream(io.NopCloser(bytes.NewReader(audio)), chunkSize, nil)
}

// Next returns the next chunk, io.EOF after the last one, or a *Error.
// A stream that ends before producing any audio fails with ErrEmptyAudio.
func (s *Stream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.body, buf)
	switch {
	case err == nil:
		s.total += n
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.total += n
		s.done = true
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		s.done = true
		if s.total == 0 {
			return nil, ErrEmptyAudio
		}
		return nil, io.EOF
	default:
		s.done = true
		return nil, NewErrorWithCause(ErrorStatusTransport, "failed to read audio", err)
	}
}

// Close releases the underlying request
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return s.closeErr
}
