package stage

import "strings"

// Turn is one committed, attributed line of dialogue. Immutable once
// appended to the transcript.
type Turn struct {
	Author string
	Text   string
}

// reconciler accumulates streamed partial-transcript fragments for both
// speakers until a turn boundary commits them as attributed turns.
//
// Not safe for concurrent use; the engine serializes access under its own
// lock.
type reconciler struct {
	actor string
	ai    string
}

func (r *reconciler) appendActor(fragment string) { r.actor += fragment }
func (r *reconciler) appendAI(fragment string)    { r.ai += fragment }

// previews returns the current uncommitted text for both speakers.
func (r *reconciler) previews() (actor, ai string) { return r.actor, r.ai }

func (r *reconciler) clear() { r.actor, r.ai = "", "" }

// boundary processes a turn-complete signal: it drains both accumulators and
// returns the turns to commit, performer first when both spoke.
//
// The very first boundary of a session that carries only agent text is the
// agent acknowledging its scene-opening context, not a dramatized line, and
// commits nothing. committed is the number of turns already committed in the
// whole session.
func (r *reconciler) boundary(actorName, aiName string, committed int) []Turn {
	actorText := strings.TrimSpace(r.actor)
	aiText := strings.TrimSpace(r.ai)
	r.clear()

	if aiText != "" && actorText == "" && committed == 0 {
		return nil
	}

	var turns []Turn
	if actorText != "" {
		turns = append(turns, Turn{Author: actorName, Text: actorText})
	}
	if aiText != "" {
		turns = append(turns, Turn{Author: aiName, Text: aiText})
	}
	return turns
}
