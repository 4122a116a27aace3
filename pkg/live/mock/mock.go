// Package mock provides in-memory mock implementations of the [live.Dialer]
// and [live.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose exported fields the test sets to
// control behavior.
//
// Typical usage:
//
//	stream := mock.NewStream()
//	dialer := &mock.Dialer{Stream: stream}
//	// ... start the component under test ...
//	stream.Emit(live.Event{Kind: live.KindOpened})
//	stream.Emit(live.Event{Kind: live.KindOutputTranscription, Text: "Hola"})
package mock

import (
	"context"
	"sync"

	"github.com/telonlabs/telon/pkg/live"
)

// Compile-time interface assertions.
var (
	_ live.Dialer = (*Dialer)(nil)
	_ live.Stream = (*Stream)(nil)
)

// Dialer is a mock [live.Dialer]. Set Stream or DialError before use;
// inspect DialCalls and Streams after.
type Dialer struct {
	mu sync.Mutex

	// Stream, when set, is returned by every Dial. When nil, each Dial hands
	// out a fresh stream, mirroring a real dialer.
	Stream *Stream

	// DialError, when set, is returned by Dial instead of a stream.
	DialError error

	// DialCalls records the OpenConfig of every Dial call, in order.
	DialCalls []live.OpenConfig

	// Streams records every stream handed out, in order.
	Streams []*Stream
}

// Dial implements [live.Dialer].
func (d *Dialer) Dial(_ context.Context, cfg live.OpenConfig) (live.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DialCalls = append(d.DialCalls, cfg)
	if d.DialError != nil {
		return nil, d.DialError
	}
	s := d.Stream
	if s == nil {
		s = NewStream()
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// LastStream returns the most recently dialed stream, or nil when Dial has
// not handed one out yet.
func (d *Dialer) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// LastDial returns the OpenConfig of the most recent Dial call, or a zero
// config when Dial was never called.
func (d *Dialer) LastDial() live.OpenConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.DialCalls) == 0 {
		return live.OpenConfig{}
	}
	return d.DialCalls[len(d.DialCalls)-1]
}

// Stream is a mock [live.Stream]. Tests drive the consumer by emitting
// events through Emit and finish with CloseQueue.
type Stream struct {
	mu sync.Mutex

	// SendTextError and SendAudioError, when set, are returned by the
	// corresponding methods.
	SendTextError  error
	SendAudioError error

	// SentTexts records every SendText payload, in order.
	SentTexts []string

	// SentAudio records a copy of every SendAudio chunk, in order.
	SentAudio [][]byte

	// CloseCount records how many times Close was called.
	CloseCount int

	events chan live.Event
	closed bool
}

// NewStream creates a mock stream with a buffered event queue.
func NewStream() *Stream {
	return &Stream{events: make(chan live.Event, 64)}
}

// Emit places one event on the queue, as if the remote side produced it.
func (s *Stream) Emit(ev live.Event) {
	s.events <- ev
}

// CloseQueue closes the event queue, ending the consumer's receive loop.
// Call at most once.
func (s *Stream) CloseQueue() {
	close(s.events)
}

// SendText implements [live.Stream].
func (s *Stream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendTextError != nil {
		return s.SendTextError
	}
	s.SentTexts = append(s.SentTexts, text)
	return nil
}

// SendAudio implements [live.Stream].
func (s *Stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioError != nil {
		return s.SendAudioError
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

// Events implements [live.Stream].
func (s *Stream) Events() <-chan live.Event { return s.events }

// Close implements [live.Stream]. It only counts calls; tests end the queue
// explicitly with CloseQueue so they control event ordering.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Texts returns a copy of the recorded SendText payloads.
func (s *Stream) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SentTexts))
	copy(out, s.SentTexts)
	return out
}

// AudioCount returns the number of recorded SendAudio chunks.
func (s *Stream) AudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}
