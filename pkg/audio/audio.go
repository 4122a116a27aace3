// Package audio provides the PCM primitives shared by the capture and
// playback pipelines: stream formats, duration math and little-endian
// int16 sample helpers.
//
// All PCM data in this module is signed 16-bit little-endian. The live
// protocol fixes the rates: microphone input is 16 kHz mono, agent output
// is 24 kHz mono.
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical stream formats used by the live protocol.
var (
	// InputFormat is the microphone capture format sent to the agent.
	InputFormat = Format{SampleRate: 16000, Channels: 1}

	// OutputFormat is the format of audio received from the agent.
	OutputFormat = Format{SampleRate: 24000, Channels: 1}
)

// BytesPerSecond returns the byte rate of int16 PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// String returns a human-readable description, e.g. "24000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Duration returns the playback duration of n bytes of int16 PCM in format f.
// It returns 0 for an invalid format.
func Duration(n int, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// MIMEType returns the wire MIME type for int16 PCM at the format's rate,
// e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// ParseRate extracts the sample rate from a PCM MIME type of the form
// "audio/pcm;rate=24000". It returns fallback when the string carries no
// parseable rate parameter, so callers can default to their stream format.
func ParseRate(mimeType string, fallback int) int {
	for part := range strings.SplitSeq(mimeType, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "rate="); ok {
			if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return fallback
}
