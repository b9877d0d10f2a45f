package claim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture() (*Table, *fakeClock) {
	clk := &fakeClock{t: time.UnixMilli(1_000_000)}
	return NewTable(clk.now), clk
}

func TestTouchExcludesOtherPlayersWithinWindow(t *testing.T) {
	tbl, clk := newFixture()

	require.True(t, tbl.Touch("c1", "alice"))

	clk.advance(500 * time.Millisecond)
	require.False(t, tbl.Touch("c1", "bob"))

	// claim expires without renewal
	clk.advance(2000 * time.Millisecond)
	require.True(t, tbl.Touch("c1", "bob"))
}

func TestHolderRefreshesClaim(t *testing.T) {
	tbl, clk := newFixture()

	require.True(t, tbl.Touch("c1", "alice"))
	clk.advance(1500 * time.Millisecond)
	require.True(t, tbl.Touch("c1", "alice")) // renewal restamps the window

	clk.advance(1500 * time.Millisecond)
	require.False(t, tbl.Touch("c1", "bob")) // 1500ms since renewal, still held
}

func TestClaimsAreIndependentPerObject(t *testing.T) {
	tbl, _ := newFixture()

	require.True(t, tbl.Touch("c1", "alice"))
	require.True(t, tbl.Touch("c2", "bob"))
	require.False(t, tbl.Touch("c2", "alice"))
}

func TestHolder(t *testing.T) {
	tbl, clk := newFixture()

	_, ok := tbl.Holder("c1")
	require.False(t, ok)

	tbl.Touch("c1", "alice")
	owner, ok := tbl.Holder("c1")
	require.True(t, ok)
	require.Equal(t, "alice", owner)

	clk.advance(Window)
	_, ok = tbl.Holder("c1")
	require.False(t, ok)
}

func TestDropReleasesClaim(t *testing.T) {
	tbl, _ := newFixture()

	tbl.Touch("c1", "alice")
	tbl.Drop("c1")
	require.True(t, tbl.Touch("c1", "bob"))
}
