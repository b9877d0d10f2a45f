// Package claim implements the time-windowed advisory ownership claims
// that keep two players from stomping each other's in-flight manipulation
// of the same shared object. A claim is never a hard lock: it expires on
// its own, so a crashed claimant cannot freeze an object.
package claim

import "time"

// Window is how long a touch holds an object against other players.
const Window = 2000 * time.Millisecond

type entry struct {
	owner   string
	touched time.Time
}

// Table tracks the live claims for one lobby, keyed by object id. It is
// internal bookkeeping, never part of the externally visible document.
// Not safe for concurrent use; a Table is owned by its lobby's goroutine.
type Table struct {
	now    func() time.Time
	window time.Duration
	held   map[string]entry
}

// NewTable builds a claim table reading time from now, which tests may
// replace with a fake clock.
func NewTable(now func() time.Time) *Table {
	return &Table{
		now:    now,
		window: Window,
		held:   make(map[string]entry),
	}
}

// Touch attempts to claim or renew objectID for playerID. It reports
// false when another player holds a still-valid claim; the caller must
// then drop the update. On success the claim is (re)stamped to now.
func (t *Table) Touch(objectID, playerID string) bool {
	now := t.now()
	if e, ok := t.held[objectID]; ok {
		if e.owner != playerID && now.Sub(e.touched) < t.window {
			return false
		}
	}
	t.held[objectID] = entry{owner: playerID, touched: now}
	return true
}

// Holder returns the current claimant of objectID, if the claim is still
// within its window.
func (t *Table) Holder(objectID string) (string, bool) {
	e, ok := t.held[objectID]
	if !ok || t.now().Sub(e.touched) >= t.window {
		return "", false
	}
	return e.owner, true
}

// Drop releases any claim on objectID, e.g. when the object is deleted.
func (t *Table) Drop(objectID string) {
	delete(t.held, objectID)
}
