// Package archive persists performed sessions: committed transcript turns and
// the scene-continuity memory snapshots taken at each scene boundary.
//
// Archiving is optional and best-effort. The engine never blocks a live scene
// on the archive; write failures are logged and the show goes on.
package archive

import "context"

// Turn is one committed transcript turn as stored in the archive.
type Turn struct {
	// Speaker is the display name of whoever spoke the turn.
	Speaker string

	// Text is the final reconciled transcript text.
	Text string

	// SceneIndex is the zero-based index of the scene the turn belongs to.
	SceneIndex int
}

// Store persists session history. Implementations must be safe for
// concurrent use.
type Store interface {
	// AppendTurn appends one committed turn under sessionID.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// SaveMemory records the continuity memory produced when the scene at
	// sceneIndex ended.
	SaveMemory(ctx context.Context, sessionID string, sceneIndex int, memory string) error

	// Close releases any resources held by the store.
	Close()
}

// Nop is a Store that discards everything. Used when no archive is
// configured.
type Nop struct{}

var _ Store = Nop{}

func (Nop) AppendTurn(context.Context, string, Turn) error        { return nil }
func (Nop) SaveMemory(context.Context, string, int, string) error { return nil }
func (Nop) Close()                                                {}
