package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/telonlabs/telon/pkg/audio"
)

// Compile-time assertion that OtoSink satisfies Sink.
var _ Sink = (*OtoSink)(nil)

// OtoSink plays PCM16 through the OS speaker via oto. The oto context can
// only be created once per process, so construct a single OtoSink at startup
// and share it across sessions; [Scheduler.Stop] flushes it between scenes
// without tearing it down.
//
// The sink buffers written chunks and feeds the oto player through a pull
// [io.Reader], starting the player lazily on first write.
type OtoSink struct {
	ctx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// NewOtoSink initialises the process-wide oto context for the given output
// format and blocks until the audio backend is ready.
func NewOtoSink(format audio.Format) (*OtoSink, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100 ms of int16 PCM, small enough for conversational latency.
		BufferSize: 100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("playback: init oto context: %w", err)
	}
	<-ready

	s := &OtoSink{ctx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write implements [Sink]. It queues pcm for playback, starting the player
// on first use.
func (s *OtoSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("playback: sink is closed")
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.ctx.NewPlayer(readerFunc(s.read))
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// read feeds the oto player. It blocks until data arrives or the sink is
// flushed or closed; on flush/close it returns silence so oto drains
// gracefully instead of spinning.
func (s *OtoSink) read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && s.playing && !s.closed {
		s.cond.Wait()
	}

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush implements [Sink]. It discards all queued audio and tears down the
// current player so stale audio cannot bleed into the next scene. The sink
// stays usable; the next Write starts a fresh player.
func (s *OtoSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

// Close permanently shuts the sink down. Subsequent writes fail.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}

// readerFunc adapts a function to io.Reader for oto's pull API.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
