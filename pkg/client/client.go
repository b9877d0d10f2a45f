// Package client is a Go mirror client for the tabletop relay. It keeps
// a local copy of the lobby document using the same merge engine as the
// server, reconnects under an explicit retry policy, and suppresses
// echoes of its own updates by messageId.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/document"
	"github.com/cardlab/tabletop-sync-backend/internal/game"
	"github.com/cardlab/tabletop-sync-backend/internal/protocol"
)

// ConnState is the connection state machine's current position.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ErrNotConnected is returned by sends while the socket is down.
var ErrNotConnected = errors.New("not connected")

// RetryPolicy drives reconnection: exponential backoff from BaseDelay up
// to MaxDelay, giving up after MaxAttempts consecutive failures
// (0 = never give up).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy starts at the relay's historical 2s delay.
var DefaultRetryPolicy = RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

// Delay returns the backoff before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Config wires a client to one lobby under one player identity.
type Config struct {
	URL      string // ws endpoint, e.g. "ws://localhost:8080/ws"
	LobbyID  string
	PlayerID string
	Secret   string
	Retry    RetryPolicy
	Logger   *zap.Logger

	// Callbacks run on the read goroutine; keep them fast.
	OnSync    func(doc any)
	OnUpdate  func(path []string, value any)
	OnPlayers func(players []game.RosterEntry)
}

const sentHistory = 1024

type Client struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	state  ConnState
	conn   *websocket.Conn
	doc    any
	roster []game.RosterEntry
	sent   map[string]struct{}
	sentQ  []string
}

func New(cfg Config) *Client {
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		log:   log.With(zap.String("lobby", cfg.LobbyID), zap.String("player", cfg.PlayerID)),
		state: StateDisconnected,
		doc:   map[string]any{},
		sent:  make(map[string]struct{}),
	}
}

// Run connects and keeps the mirror alive until ctx is canceled or the
// retry policy is exhausted. Joining happens via query parameters, so a
// successful dial is already a join.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	first := true
	for {
		if first {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if c.cfg.Retry.MaxAttempts > 0 && attempt >= c.cfg.Retry.MaxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
			}
			delay := c.cfg.Retry.Delay(attempt - 1)
			c.log.Info("dial failed, backing off",
				zap.Duration("delay", delay), zap.Int("attempt", attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		first = false
		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		c.log.Info("connected")

		err = c.readLoop(ctx, conn)
		c.mu.Lock()
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Info("connection lost", zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("lobby", c.cfg.LobbyID)
	q.Set("player", c.cfg.PlayerID)
	if c.cfg.Secret != "" {
		q.Set("secret", c.cfg.Secret)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

// handleFrame applies one inbound envelope to the mirror. Echoes of our
// own messages (by messageId or sender id) are dropped so local
// optimistic updates never loop.
func (c *Client) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("bad frame", zap.Error(err))
		return
	}
	if env.MessageID != "" && c.wasSent(env.MessageID) {
		return
	}
	if env.PlayerID == c.cfg.PlayerID {
		return
	}

	switch env.Type {
	case protocol.TypeSync:
		var doc any
		if err := json.Unmarshal(env.Payload, &doc); err != nil {
			c.log.Warn("bad sync payload", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.doc = doc
		c.mu.Unlock()
		if c.cfg.OnSync != nil {
			c.cfg.OnSync(doc)
		}

	case protocol.TypeUpdate:
		if len(env.Path) == 0 {
			return
		}
		c.mu.Lock()
		next, err := document.Apply(c.doc, env.Path, env.Value)
		if err == nil {
			c.doc = next
		}
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("bad update value", zap.Error(err))
			return
		}
		if c.cfg.OnUpdate != nil {
			var value any
			if !document.IsTombstone(env.Value) {
				_ = json.Unmarshal(env.Value, &value)
			}
			c.cfg.OnUpdate(env.Path, value)
		}

	case protocol.TypePlayerList:
		var payload protocol.PlayerListPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.log.Warn("bad playerList payload", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.roster = payload.Players
		c.mu.Unlock()
		if c.cfg.OnPlayers != nil {
			c.cfg.OnPlayers(payload.Players)
		}

	case protocol.TypeError:
		c.log.Warn("server error", zap.ByteString("payload", env.Payload))

	default:
		c.log.Debug("ignoring envelope", zap.String("type", string(env.Type)))
	}
}

// SendUpdate patches the shared document at path. A nil value deletes
// the subtree. The mirror is updated optimistically before the envelope
// leaves, and the generated messageId is remembered for echo
// suppression.
func (c *Client) SendUpdate(ctx context.Context, path []string, value any) error {
	raw := json.RawMessage("null")
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		raw = data
	}

	env := protocol.Envelope{
		Type:      protocol.TypeUpdate,
		PlayerID:  c.cfg.PlayerID,
		Timestamp: time.Now().UnixMilli(),
		MessageID: uuid.NewString(),
		Path:      path,
		Value:     raw,
	}

	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		if next, err := document.Apply(c.doc, path, raw); err == nil {
			c.doc = next
		}
		c.recordSent(env.MessageID)
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	return c.write(ctx, conn, env)
}

// SendAction forwards a game action; the relay currently observes and
// drops these.
func (c *Client) SendAction(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := protocol.Envelope{
		Type:      protocol.TypeAction,
		PlayerID:  c.cfg.PlayerID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, env)
}

// RequestResync asks the relay for a fresh full-state sync.
func (c *Client) RequestResync(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, protocol.Envelope{
		Type:      protocol.TypeSync,
		PlayerID:  c.cfg.PlayerID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Document returns a deep copy of the mirrored document.
func (c *Client) Document() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return document.Clone(c.doc)
}

// Players returns the last roster broadcast by the relay.
func (c *Client) Players() []game.RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]game.RosterEntry, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) wasSent(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sent[messageID]
	return ok
}

// recordSent remembers a messageId, bounding the history so a long-lived
// client doesn't grow without limit. Caller holds c.mu.
func (c *Client) recordSent(messageID string) {
	c.sent[messageID] = struct{}{}
	c.sentQ = append(c.sentQ, messageID)
	if len(c.sentQ) > sentHistory {
		delete(c.sent, c.sentQ[0])
		c.sentQ = c.sentQ[1:]
	}
}
