package stage

import "errors"

// Error taxonomy for session operations. Callers classify failures with
// [errors.Is]; the wrapped cause carries the detail.
var (
	// ErrConfiguration marks failures that need user action before any retry
	// can succeed (missing credential, empty script).
	ErrConfiguration = errors.New("stage: configuration error")

	// ErrDevice marks microphone acquisition or startup failures.
	ErrDevice = errors.New("stage: device error")

	// ErrProtocol marks live stream failures: dial errors, send errors,
	// remote error events, unexpected closes. Recoverable by starting again;
	// committed turns of the current scene are replayed on reconnect.
	ErrProtocol = errors.New("stage: protocol error")

	// ErrSummarization marks a failed continuity side call. Cursor, memory
	// and transcripts are preserved so the advance can simply be retried.
	ErrSummarization = errors.New("stage: summarization error")

	// ErrSessionActive rejects Start while a session is connecting or open.
	ErrSessionActive = errors.New("stage: session already active")
)
