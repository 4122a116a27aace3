// Package mock provides in-memory fakes for the capture and playback
// interfaces, for use in unit tests.
//
// All fakes are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose exported fields the test sets to
// control return values.
//
// Typical usage:
//
//	opener := &mock.Opener{}
//	pipe, _ := capture.New(opener, "", audio.InputFormat, 4096, sink)
//	_ = pipe.Start()
//	opener.Device.Feed(pcm) // push samples as if from the hardware callback
package mock

import (
	"sync"
	"time"

	"github.com/telonlabs/telon/pkg/audio"
	"github.com/telonlabs/telon/pkg/audio/capture"
	"github.com/telonlabs/telon/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ capture.Opener = (*Opener)(nil)
	_ capture.Device = (*Device)(nil)
	_ playback.Sink  = (*Sink)(nil)
	_ playback.Clock = (*Clock)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Opener is a fake [capture.Opener]. It records Open calls and hands out a
// [Device] whose Feed method simulates the hardware data callback.
type Opener struct {
	mu sync.Mutex

	// OpenError, when set, is returned by Open instead of a device.
	OpenError error

	// Device is the device returned by Open. Populated on first Open if nil.
	Device *Device

	// OpenCalls records the arguments of every Open call.
	OpenCalls []OpenCall
}

// OpenCall records one Opener.Open invocation.
type OpenCall struct {
	DeviceID string
	Format   audio.Format
}

// Open implements [capture.Opener].
func (o *Opener) Open(deviceID string, format audio.Format, onData func(pcm []byte)) (capture.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.OpenCalls = append(o.OpenCalls, OpenCall{DeviceID: deviceID, Format: format})
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	if o.Device == nil {
		o.Device = &Device{}
	}
	o.Device.setCallback(onData)
	return o.Device, nil
}

// Device is a fake [capture.Device]. Tests push PCM through Feed as if the
// hardware delivered it.
type Device struct {
	mu sync.Mutex

	// StartError, when set, is returned by Start.
	StartError error

	// StartCount and CloseCount record lifecycle calls.
	StartCount int
	CloseCount int

	started bool
	onData  func(pcm []byte)
}

func (d *Device) setCallback(onData func(pcm []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onData = onData
}

// Start implements [capture.Device].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCount++
	if d.StartError != nil {
		return d.StartError
	}
	d.started = true
	return nil
}

// Close implements [capture.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCount++
	d.started = false
	return nil
}

// Feed simulates a hardware data callback. It is a no-op unless the device
// has been started.
func (d *Device) Feed(pcm []byte) {
	d.mu.Lock()
	started, onData := d.started, d.onData
	d.mu.Unlock()

	if started && onData != nil {
		onData(pcm)
	}
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Sink is a fake [playback.Sink] recording every write and flush.
type Sink struct {
	mu sync.Mutex

	// WriteError, when set, is returned by Write.
	WriteError error

	// Writes holds a copy of every chunk passed to Write, in order.
	Writes [][]byte

	// FlushCount records how many times Flush was called.
	FlushCount int
}

// Write implements [playback.Sink].
func (s *Sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Writes = append(s.Writes, cp)
	return nil
}

// Flush implements [playback.Sink].
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCount++
}

// WriteCount returns the number of recorded writes.
func (s *Sink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes)
}

// Clock is a manual [playback.Clock]. Tests advance it with Set.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now implements [playback.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to the given offset.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}
