package stage

// Status is the session state exposed to observers. Exactly one value holds
// at any time.
type Status int

const (
	// StatusIdle means no session is open. Initial state; also the state
	// after a clean Stop or a completed scene advance.
	StatusIdle Status = iota

	// StatusConnecting means Start is establishing the live stream.
	StatusConnecting

	// StatusListening means the stream is open and waiting for the performer.
	StatusListening

	// StatusSpeaking means the agent is actively producing output.
	StatusSpeaking

	// StatusSummarizing means a scene advance is compressing the finished
	// scene into story memory.
	StatusSummarizing

	// StatusError means the session failed. The message stays visible until
	// the next Start; resources are already released.
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusSummarizing:
		return "summarizing"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
