package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanWrite(t *testing.T) {
	cases := []struct {
		name     string
		playerID string
		path     []string
		want     bool
	}{
		{"shared card", "alice", []string{"cards", "c1"}, true},
		{"shared deck", "alice", []string{"decks", "d1", "position"}, true},
		{"own subtree", "alice", []string{"players", "alice", "tray", "c1"}, true},
		{"other player subtree", "alice", []string{"players", "bob", "tray", "c1"}, false},
		{"players root", "alice", []string{"players"}, false},
		{"empty path", "alice", nil, false},
		{"unknown shared domain", "alice", []string{"overlay"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanWrite(tc.playerID, tc.path))
		})
	}
}

func TestSeatForJoinOrder(t *testing.T) {
	joins := map[string]int64{
		"alice": 100,
		"bob":   200,
		"carol": 300,
		"dave":  400,
		"erin":  500,
	}

	require.Equal(t, 0, SeatForJoinOrder(joins, "alice"))
	require.Equal(t, 1, SeatForJoinOrder(joins, "bob"))
	require.Equal(t, 3, SeatForJoinOrder(joins, "dave"))
	// fifth player wraps around the table
	require.Equal(t, 0, SeatForJoinOrder(joins, "erin"))
}

func TestSeatForJoinOrderTieBreaksByID(t *testing.T) {
	joins := map[string]int64{"b": 100, "a": 100}
	require.Equal(t, 0, SeatForJoinOrder(joins, "a"))
	require.Equal(t, 1, SeatForJoinOrder(joins, "b"))
}

func TestRosterSortedAndFiltered(t *testing.T) {
	joins := map[string]int64{"alice": 100, "bob": 200, "carol": 50}

	all := Roster(joins, nil)
	require.Equal(t, []string{"carol", "alice", "bob"}, ids(all))

	connected := Roster(joins, map[string]bool{"alice": true, "bob": true})
	require.Equal(t, []string{"alice", "bob"}, ids(connected))
	require.Equal(t, int64(100), connected[0].JoinTimestamp)
}

func TestNewPlayerStateShape(t *testing.T) {
	st := NewPlayerState("alice", 2)

	meta := st["metadata"].(map[string]any)
	require.Equal(t, "alice", meta["name"])
	require.Equal(t, 2, meta["seat"])

	decks := st["decks"].(map[string]any)
	require.Len(t, decks, 1)
	deck := decks["deck:alice:starter"].(map[string]any)
	require.Len(t, deck["cards"].([]any), 10)

	require.Empty(t, st["tray"].(map[string]any))
}

func TestStarterDeckDeterministic(t *testing.T) {
	require.Equal(t, StarterDeck("alice"), StarterDeck("alice"))
}

func ids(entries []RosterEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
