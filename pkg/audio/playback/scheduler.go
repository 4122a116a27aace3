// Package playback schedules agent audio chunks for gapless output.
//
// Chunks arrive from the network at irregular cadence, often faster than
// realtime. The [Scheduler] keeps a monotonic write cursor: each chunk is
// placed at max(cursor, now) and the cursor advances by the chunk's
// duration, so consecutive chunks butt against each other with no gaps and
// no overlap, while a chunk arriving after an idle period starts
// immediately rather than in the past.
//
// The scheduler writes into a [Sink]. The oto adapter in this package is
// the production sink; audio/mock provides a recording fake.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/telonlabs/telon/pkg/audio"
)

// Sink consumes scheduled PCM in playback order. Write appends audio to the
// output queue; Flush discards everything not yet played and stops output
// until the next Write.
type Sink interface {
	Write(pcm []byte) error
	Flush()
}

// Clock reports elapsed output time. The zero point is arbitrary; only
// monotonic growth matters. Tests substitute a manual clock.
type Clock interface {
	Now() time.Duration
}

type wallClock struct {
	t0 time.Time
}

func (c *wallClock) Now() time.Duration {
	return time.Since(c.t0)
}

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithClock overrides the wall clock. Used by tests to freeze time.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// Scheduler places PCM chunks on a gapless timeline and tracks which
// scheduled chunks are still pending or audible. Safe for concurrent use.
type Scheduler struct {
	sink   Sink
	format audio.Format
	clock  Clock

	mu      sync.Mutex
	cursor  time.Duration
	pending []span
}

type span struct {
	start, end time.Duration
}

// New creates a scheduler writing into sink in the given output format.
func New(sink Sink, format audio.Format, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		format: format,
		clock:  &wallClock{t0: time.Now()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule places one PCM16 chunk on the timeline and writes it to the sink.
// srcRate is the chunk's sample rate; chunks not already at the output rate
// are resampled before scheduling. It returns the chunk's assigned start
// offset on the output timeline.
func (s *Scheduler) Schedule(pcm []byte, srcRate int) (time.Duration, error) {
	if len(pcm) == 0 {
		return 0, nil
	}
	pcm = audio.ResampleMono16(pcm, srcRate, s.format.SampleRate)
	dur := audio.Duration(len(pcm), s.format)

	s.mu.Lock()
	now := s.clock.Now()
	s.prune(now)

	start := s.cursor
	if now > start {
		start = now
	}
	s.cursor = start + dur
	s.pending = append(s.pending, span{start: start, end: s.cursor})
	s.mu.Unlock()

	if err := s.sink.Write(pcm); err != nil {
		return 0, fmt.Errorf("playback: write chunk: %w", err)
	}
	return start, nil
}

// Pending returns the number of scheduled chunks that have not finished
// playing yet, per the scheduler's clock.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.clock.Now())
	return len(s.pending)
}

// Cursor returns the timeline offset at which the next chunk would start if
// it arrived with playback still in progress.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stop forcibly halts playback: the sink is flushed, every tracked chunk is
// discarded and the cursor rewinds to zero. The scheduler is reusable
// afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.pending = nil
	s.cursor = 0
	s.mu.Unlock()

	s.sink.Flush()
}

// prune drops chunks whose playback window has passed. Caller holds s.mu.
func (s *Scheduler) prune(now time.Duration) {
	kept := s.pending[:0]
	for _, sp := range s.pending {
		if sp.end > now {
			kept = append(kept, sp)
		}
	}
	s.pending = kept
}
