package client

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardlab/tabletop-sync-backend/internal/document"
)

func TestRetryPolicyDelaySchedule(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

	require.Equal(t, 2*time.Second, p.Delay(0))
	require.Equal(t, 4*time.Second, p.Delay(1))
	require.Equal(t, 8*time.Second, p.Delay(2))
	require.Equal(t, 16*time.Second, p.Delay(3))
	// ceiling
	require.Equal(t, 30*time.Second, p.Delay(4))
	require.Equal(t, 30*time.Second, p.Delay(50))
}

func TestHandleFrameSyncReplacesMirror(t *testing.T) {
	c := New(Config{PlayerID: "alice"})

	c.handleFrame([]byte(`{"type":"sync","playerId":"server","timestamp":1,
		"payload":{"cards":{"c1":{"faceUp":true}},"players":{}}}`))

	v, ok := document.Get(c.Document(), []string{"cards", "c1", "faceUp"})
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestHandleFrameUpdateMergesIntoMirror(t *testing.T) {
	var gotPath []string
	c := New(Config{PlayerID: "alice", OnUpdate: func(path []string, value any) {
		gotPath = path
	}})

	c.handleFrame([]byte(`{"type":"sync","playerId":"server","payload":{"cards":{}}}`))
	c.handleFrame([]byte(`{"type":"update","playerId":"bob","path":["cards","c1"],
		"value":{"position":[1,0,0]}}`))

	require.Equal(t, []string{"cards", "c1"}, gotPath)
	v, ok := document.Get(c.Document(), []string{"cards", "c1", "position"})
	require.True(t, ok)
	require.Equal(t, []any{float64(1), float64(0), float64(0)}, v)
}

func TestHandleFrameSuppressesOwnEcho(t *testing.T) {
	c := New(Config{PlayerID: "alice"})
	c.handleFrame([]byte(`{"type":"sync","playerId":"server","payload":{"cards":{}}}`))

	// as if SendUpdate had just run: the id is remembered, the mirror
	// already holds the optimistic value
	c.mu.Lock()
	c.recordSent("m-echo")
	c.doc, _ = document.Apply(c.doc, []string{"cards", "c1"}, json.RawMessage(`{"x":1}`))
	c.mu.Unlock()

	fired := false
	c.cfg.OnUpdate = func([]string, any) { fired = true }

	c.handleFrame([]byte(`{"type":"update","playerId":"alice","messageId":"m-echo",
		"path":["cards","c1"],"value":{"x":2}}`))

	require.False(t, fired)
	v, _ := document.Get(c.Document(), []string{"cards", "c1", "x"})
	require.Equal(t, float64(1), v, "echo must not re-apply over the local value")
}

func TestHandleFrameIgnoresOtherFramesFromSelf(t *testing.T) {
	c := New(Config{PlayerID: "alice"})

	fired := false
	c.cfg.OnUpdate = func([]string, any) { fired = true }
	c.handleFrame([]byte(`{"type":"update","playerId":"alice","path":["cards","c1"],"value":{"x":1}}`))

	require.False(t, fired)
}

func TestHandleFramePlayerList(t *testing.T) {
	c := New(Config{PlayerID: "alice"})

	c.handleFrame([]byte(`{"type":"playerList","playerId":"server",
		"payload":{"players":[{"id":"alice","joinTimestamp":1},{"id":"bob","joinTimestamp":2}],
		"members":["alice","bob"]}}`))

	players := c.Players()
	require.Len(t, players, 2)
	require.Equal(t, "alice", players[0].ID)
	require.Equal(t, "bob", players[1].ID)
}

func TestHandleFrameTombstoneDeletes(t *testing.T) {
	c := New(Config{PlayerID: "alice"})
	c.handleFrame([]byte(`{"type":"sync","playerId":"server","payload":{"cards":{"c1":{"x":1}}}}`))

	c.handleFrame([]byte(`{"type":"update","playerId":"bob","path":["cards","c1"],"value":null}`))

	_, ok := document.Get(c.Document(), []string{"cards", "c1"})
	require.False(t, ok)
}

func TestSendUpdateWhileDisconnected(t *testing.T) {
	c := New(Config{PlayerID: "alice"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	err := c.SendUpdate(ctx, []string{"cards", "c1"}, map[string]any{"x": 1})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestRecordSentBoundsHistory(t *testing.T) {
	c := New(Config{PlayerID: "alice"})

	c.mu.Lock()
	for i := 0; i < sentHistory+10; i++ {
		c.recordSent("m-" + strconv.Itoa(i))
	}
	c.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.sent, sentHistory)
	require.Len(t, c.sentQ, sentHistory)
}
