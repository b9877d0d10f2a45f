// Package game holds the pure tabletop domain: the shape of the shared
// GameState document, seat derivation, starter content seeding and the
// write-permission rule. It has no I/O and no knowledge of lobbies or
// sockets.
package game

import (
	"fmt"
	"sort"
)

// Top-level domains of the GameState tree. Everything outside
// DomainPlayers is shared board state, writable by any member.
const (
	DomainPlayers = "players"
	DomainCards   = "cards"
	DomainDecks   = "decks"
)

const seatCount = 4

// RosterEntry is one connected player in join order.
type RosterEntry struct {
	ID            string `json:"id"`
	JoinTimestamp int64  `json:"joinTimestamp"`
}

// NewGameState builds the empty authoritative document for a fresh lobby.
func NewGameState() map[string]any {
	return map[string]any{
		DomainPlayers: map[string]any{},
		DomainCards:   map[string]any{},
		DomainDecks:   map[string]any{},
	}
}

// NewPlayerState seeds the private sub-tree for a player joining for the
// first time: metadata with the derived seat, one starter deck and an
// empty tray.
func NewPlayerState(playerID string, seat int) map[string]any {
	deck := StarterDeck(playerID)
	return map[string]any{
		"metadata": map[string]any{
			"name": playerID,
			"seat": seat,
		},
		"decks": map[string]any{
			deck["id"].(string): deck,
		},
		"tray": map[string]any{},
	}
}

// StarterDeck builds a deterministic placeholder deck for a player. Real
// deck content comes from the client's catalog; the server only guarantees
// a stable initial shape.
func StarterDeck(playerID string) map[string]any {
	cards := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		cards = append(cards, map[string]any{
			"id":           fmt.Sprintf("card:%s:%d", playerID, i),
			"faceImageUrl": fmt.Sprintf("cards/%s/%02d.png", playerID, i),
		})
	}
	return map[string]any{
		"id":       "deck:" + playerID + ":starter",
		"position": []any{0.0, 0.0, 0.0},
		"rotation": []any{0.0, 0.0, 0.0},
		"isFaceUp": false,
		"cards":    cards,
	}
}

// CanWrite reports whether a player may write at path. Paths under
// DomainPlayers are restricted to the owner's own sub-tree; every other
// domain is open to all members. An empty path (whole-document replace)
// is never writable by a client.
func CanWrite(playerID string, path []string) bool {
	if len(path) == 0 {
		return false
	}
	if path[0] == DomainPlayers {
		return len(path) > 1 && path[1] == playerID
	}
	return true
}

// SeatForJoinOrder derives a player's seat from their position in the
// lobby's join order, modulo the table's four seats. Join timestamps are
// retained across reconnects, so the result is stable for the lobby's
// lifetime. Ties on timestamp break by id so the order is deterministic.
func SeatForJoinOrder(joinTimes map[string]int64, playerID string) int {
	ids := sortedByJoin(joinTimes)
	for i, id := range ids {
		if id == playerID {
			return i % seatCount
		}
	}
	return 0
}

// Roster returns the given players sorted ascending by join timestamp.
// Only ids present in connected are included; pass nil to include all.
func Roster(joinTimes map[string]int64, connected map[string]bool) []RosterEntry {
	ids := sortedByJoin(joinTimes)
	roster := make([]RosterEntry, 0, len(ids))
	for _, id := range ids {
		if connected != nil && !connected[id] {
			continue
		}
		roster = append(roster, RosterEntry{ID: id, JoinTimestamp: joinTimes[id]})
	}
	return roster
}

func sortedByJoin(joinTimes map[string]int64) []string {
	ids := make([]string, 0, len(joinTimes))
	for id := range joinTimes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if joinTimes[a] != joinTimes[b] {
			return joinTimes[a] < joinTimes[b]
		}
		return a < b
	})
	return ids
}
