// Package live defines the streaming protocol abstraction between the
// session engine and a remote conversational agent.
//
// The two primary abstractions are:
//
//   - [Dialer] — opens a live conversation and returns a [Stream].
//   - [Stream] — an open bidirectional conversation: text and audio go up,
//     a single ordered [Event] queue comes down.
//
// Everything the remote side produces — transcription fragments for both
// speakers, synthesized audio, turn boundaries, protocol errors — arrives
// on one channel in strict arrival order, so a consumer reading that
// channel from a single goroutine can never observe a turn-complete signal
// ahead of the fragments belonging to that turn.
//
// Implementations of these interfaces are provided by protocol adapter
// packages (live/gemini for the production protocol, live/mock for tests).
package live

import (
	"context"
	"errors"
)

// ErrNoCredential is returned by a [Dialer] that has no API credential to
// authenticate with.
var ErrNoCredential = errors.New("live: no API credential configured")

// EventKind classifies the events emitted by a [Stream].
type EventKind int

const (
	// KindOpened signals that the remote side accepted the session setup.
	// It is always the first event on the queue.
	KindOpened EventKind = iota

	// KindInputTranscription carries a fragment of the recognized performer
	// speech in Event.Text.
	KindInputTranscription

	// KindOutputTranscription carries a fragment of the agent's spoken reply
	// in Event.Text.
	KindOutputTranscription

	// KindAudio carries a chunk of synthesized agent speech in Event.Audio,
	// with its PCM MIME type in Event.MIMEType.
	KindAudio

	// KindTurnComplete marks the end of one conversational exchange. All
	// fragments of the exchange precede it on the queue.
	KindTurnComplete

	// KindError carries a fatal protocol error in Event.Err. The stream is
	// unusable afterwards.
	KindError

	// KindClosed is the final event before the queue closes.
	KindClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindOpened:
		return "OPENED"
	case KindInputTranscription:
		return "INPUT_TRANSCRIPTION"
	case KindOutputTranscription:
		return "OUTPUT_TRANSCRIPTION"
	case KindAudio:
		return "AUDIO"
	case KindTurnComplete:
		return "TURN_COMPLETE"
	case KindError:
		return "ERROR"
	case KindClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry on a stream's ordered event queue. Which fields are
// populated depends on Kind; see the [EventKind] constants.
type Event struct {
	Kind     EventKind
	Text     string
	Audio    []byte
	MIMEType string
	Err      error
}

// OpenConfig describes one live conversation to a [Dialer].
type OpenConfig struct {
	// SystemInstruction is the behavioral instruction installed for the
	// whole conversation.
	SystemInstruction string

	// Voice selects the prebuilt voice for synthesized replies. Empty means
	// the protocol default.
	Voice string

	// TranscribeInput requests recognition of the performer's speech. Reply
	// transcription is always on.
	TranscribeInput bool
}

// Stream is an open live conversation.
//
// SendText and SendAudio are safe for concurrent use. Events returns the
// same channel on every call; it is closed after a final [KindClosed] event
// when the conversation ends for any reason. Close is idempotent and
// best-effort.
type Stream interface {
	SendText(text string) error
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Close() error
}

// Dialer opens live conversations.
type Dialer interface {
	Dial(ctx context.Context, cfg OpenConfig) (Stream, error)
}
