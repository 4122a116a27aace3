// Package capture turns a microphone device into a stream of fixed-size
// PCM16 frames.
//
// The two abstractions are:
//
//   - [Opener] — resolves a capture device by ID and opens it with a raw
//     data callback.
//   - [Pipeline] — buffers the device's callback cadence into frames of an
//     exact sample count and hands each complete frame to a sink function,
//     in capture order, never more than one partial frame behind.
//
// Implementations of [Opener] are provided by device adapter packages (the
// malgo adapter in this package, the fake in audio/mock). The pipeline is
// mute-aware: while muted it keeps the device hot and discards samples, so
// unmuting resumes instantly without renegotiating the device.
package capture

import (
	"fmt"
	"sync"

	"github.com/telonlabs/telon/pkg/audio"
)

// Device is an open capture device. Start begins delivery of PCM data to the
// callback registered at open time; Close stops delivery and releases the
// device. Close is idempotent.
type Device interface {
	Start() error
	Close() error
}

// Opener resolves and opens a capture device.
//
// deviceID selects a specific device; the empty string means the system
// default. onData receives raw little-endian int16 PCM in the requested
// format at whatever cadence the device delivers; it is called from the
// device's own thread and must not block.
type Opener interface {
	Open(deviceID string, format audio.Format, onData func(pcm []byte)) (Device, error)
}

// Pipeline slices a capture device's output into frames of exactly
// frameSamples samples and forwards each complete frame to the sink.
//
// The sink is invoked synchronously from the device callback, one complete
// frame at a time, in capture order. At most one partial frame of residue is
// held between callbacks.
type Pipeline struct {
	dev        Device
	frameBytes int
	sink       func(pcm []byte)

	mu    sync.Mutex
	buf   []byte
	muted bool
}

// New opens a capture pipeline on the device selected by deviceID.
//
// The device is opened but not started; call [Pipeline.Start] to begin frame
// delivery. frameSamples is the exact per-frame sample count (4096 samples at
// 16 kHz mono is 256 ms of audio).
func New(opener Opener, deviceID string, format audio.Format, frameSamples int, sink func(pcm []byte)) (*Pipeline, error) {
	if frameSamples <= 0 {
		return nil, fmt.Errorf("capture: frame size must be positive, got %d", frameSamples)
	}
	if sink == nil {
		return nil, fmt.Errorf("capture: nil sink")
	}

	p := &Pipeline{
		frameBytes: frameSamples * format.Channels * 2,
		sink:       sink,
	}

	dev, err := opener.Open(deviceID, format, p.onData)
	if err != nil {
		return nil, fmt.Errorf("capture: open device: %w", err)
	}
	p.dev = dev
	return p, nil
}

// Start begins capture. Frames reach the sink until Close.
func (p *Pipeline) Start() error {
	if err := p.dev.Start(); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	return nil
}

// SetMuted toggles sample discarding. While muted the device stays open and
// running but no frames reach the sink; the partial-frame residue is dropped
// so a stale fragment is never stitched onto post-unmute audio.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	if muted {
		p.buf = p.buf[:0]
	}
}

// Muted reports whether the pipeline is currently discarding samples.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Close stops the device and releases it. The sink receives no further
// frames after Close returns.
func (p *Pipeline) Close() error {
	if err := p.dev.Close(); err != nil {
		return fmt.Errorf("capture: close device: %w", err)
	}
	return nil
}

// onData is the device callback. It accumulates raw PCM and emits complete
// frames. Complete frames are copied out so the sink may retain them.
func (p *Pipeline) onData(pcm []byte) {
	p.mu.Lock()
	if p.muted {
		p.mu.Unlock()
		return
	}
	p.buf = append(p.buf, pcm...)

	var frames [][]byte
	for len(p.buf) >= p.frameBytes {
		frame := make([]byte, p.frameBytes)
		copy(frame, p.buf[:p.frameBytes])
		p.buf = p.buf[p.frameBytes:]
		frames = append(frames, frame)
	}
	p.mu.Unlock()

	// Deliver outside the lock so a slow sink cannot stall SetMuted.
	for _, frame := range frames {
		p.sink(frame)
	}
}
