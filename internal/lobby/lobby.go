// Package lobby owns one isolated session: its authoritative document,
// its member roster and the fanout of accepted updates. All state is
// confined to a single goroutine draining a typed inbox, so the
// permission check, conflict check, document mutation and broadcast of
// one update complete before the next message is looked at.
package lobby

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/claim"
	"github.com/cardlab/tabletop-sync-backend/internal/document"
	"github.com/cardlab/tabletop-sync-backend/internal/game"
	"github.com/cardlab/tabletop-sync-backend/internal/protocol"
)

type Msg interface{ isLobbyMsg() }

// Join registers a connection under a player identity. Outbox is where
// the lobby delivers marshaled envelopes for this connection.
type Join struct {
	ConnID   string
	PlayerID string
	Secret   string
	Outbox   chan []byte
}

// Leave removes a connection; triggered by the gateway's close detection.
type Leave struct{ ConnID string }

// Apply is an update envelope submitted by a connected client.
type Apply struct {
	ConnID string
	Update protocol.Update
}

// ResyncRequest asks for a fresh full-state sync on one connection.
type ResyncRequest struct{ ConnID string }

// GetView reflects internal state for tests and the debug endpoint.
type GetView struct{ Reply chan View }

type Shutdown struct{}

func (Join) isLobbyMsg()          {}
func (Leave) isLobbyMsg()         {}
func (Apply) isLobbyMsg()         {}
func (ResyncRequest) isLobbyMsg() {}
func (GetView) isLobbyMsg()       {}
func (Shutdown) isLobbyMsg()      {}

// View is a consistent copy of the lobby's observable state.
type View struct {
	Members  []game.RosterEntry
	NumConns int
	Doc      any
}

type member struct {
	playerID string
	outbox   chan []byte
}

type Lobby struct {
	id        string
	inbox     chan Msg
	doc       any
	conns     map[string]*member
	joinTimes map[string]int64
	secrets   map[string]string
	claims    *claim.Table
	clock     func() time.Time
	onEmpty   func(id string)
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New starts a lobby actor with an empty GameState. onEmpty is invoked
// (from the lobby's goroutine) once, when the last member disconnects and
// the lobby has shut itself down.
func New(parent context.Context, id string, log *zap.Logger, onEmpty func(id string)) *Lobby {
	return newLobby(parent, id, log, onEmpty, time.Now)
}

func newLobby(parent context.Context, id string, log *zap.Logger, onEmpty func(id string), clock func() time.Time) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		id:        id,
		inbox:     make(chan Msg, 64),
		doc:       game.NewGameState(),
		conns:     make(map[string]*member),
		joinTimes: make(map[string]int64),
		secrets:   make(map[string]string),
		claims:    claim.NewTable(clock),
		clock:     clock,
		onEmpty:   onEmpty,
		log:       log.With(zap.String("lobby", id)),
		ctx:       ctx,
		cancel:    cancel,
	}
	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.id }

// Send delivers a message to the lobby's inbox. It reports false once the
// lobby has shut down; callers should then re-resolve the lobby through
// the registry.
func (l *Lobby) Send(m Msg) bool {
	// checked first: the inbox is buffered, so a bare select could still
	// accept into a dead lobby's buffer
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// View synchronously reflects the lobby's state, for tests and debugging.
func (l *Lobby) View() (View, bool) {
	reply := make(chan View, 1)
	if !l.Send(GetView{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.ctx.Done():
		return View{}, false
	}
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.handleJoin(msg)
			case Leave:
				l.handleLeave(msg.ConnID)
				if len(l.conns) == 0 {
					// shut down before reporting, so by the time the
					// registry drops us Send already refuses
					l.shutdown()
					if l.onEmpty != nil {
						l.onEmpty(l.id)
					}
					return
				}
			case Apply:
				l.handleApply(msg)
			case ResyncRequest:
				if mem := l.conns[msg.ConnID]; mem != nil {
					l.sendSync(mem)
				}
			case GetView:
				msg.Reply <- View{
					Members:  game.Roster(l.joinTimes, l.connectedPlayers()),
					NumConns: len(l.conns),
					Doc:      document.Clone(l.doc),
				}
			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handleJoin(msg Join) {
	// Weak membership gate: the first secret presented for a player id
	// sticks for the lobby's lifetime.
	if recorded, ok := l.secrets[msg.PlayerID]; ok && recorded != msg.Secret {
		l.deliver(&member{playerID: msg.PlayerID, outbox: msg.Outbox}, protocol.NewError("invalid secret"))
		l.log.Info("rejected join, secret mismatch", zap.String("player", msg.PlayerID))
		return
	}
	if msg.Secret != "" {
		l.secrets[msg.PlayerID] = msg.Secret
	}

	// First join stamps the player's position in join order; reconnects
	// keep it, which is what makes seats stable.
	if _, ok := l.joinTimes[msg.PlayerID]; !ok {
		l.joinTimes[msg.PlayerID] = l.clock().UnixMilli()
	}

	mem := &member{playerID: msg.PlayerID, outbox: msg.Outbox}
	l.conns[msg.ConnID] = mem

	seat := game.SeatForJoinOrder(l.joinTimes, msg.PlayerID)
	if _, ok := document.Get(l.doc, []string{game.DomainPlayers, msg.PlayerID}); !ok {
		l.doc = document.Set(l.doc, []string{game.DomainPlayers, msg.PlayerID}, game.NewPlayerState(msg.PlayerID, seat))
	} else {
		l.doc = document.Set(l.doc, []string{game.DomainPlayers, msg.PlayerID, "metadata", "seat"}, seat)
	}

	l.log.Info("player joined", zap.String("player", msg.PlayerID), zap.Int("seat", seat))

	l.sendSync(mem)
	l.broadcastPlayerList()
}

func (l *Lobby) handleLeave(connID string) {
	mem := l.conns[connID]
	if mem == nil {
		return
	}
	delete(l.conns, connID)
	l.log.Info("player left", zap.String("player", mem.playerID))
	l.broadcastPlayerList()
}

// handleApply is the central write path: permission check, conflict
// check, server-side timestamp stamping, document mutation, fanout. The
// document is only touched after every validation step passed, so a
// malformed or malicious update can never corrupt it.
func (l *Lobby) handleApply(msg Apply) {
	mem := l.conns[msg.ConnID]
	if mem == nil {
		// connection never joined; silent drop
		return
	}

	upd := msg.Update
	serverOriginated := upd.PlayerID == protocol.ServerPlayerID

	if !serverOriginated && !game.CanWrite(mem.playerID, upd.Path) {
		l.log.Debug("permission denied",
			zap.String("player", mem.playerID),
			zap.Strings("path", upd.Path))
		return
	}

	if objID, ok := claimTarget(upd.Path); ok && !serverOriginated {
		if !l.claims.Touch(objID, mem.playerID) {
			l.log.Debug("update dropped, object claimed",
				zap.String("player", mem.playerID),
				zap.String("object", objID))
			return
		}
		if document.IsTombstone(upd.Value) {
			l.claims.Drop(objID)
		}
	}

	next, err := document.Apply(l.doc, upd.Path, upd.Value)
	if err != nil {
		l.deliver(mem, protocol.NewError("invalid update value"))
		return
	}
	l.doc = next

	out := protocol.Envelope{
		Type:      protocol.TypeUpdate,
		PlayerID:  upd.PlayerID,
		Timestamp: l.clock().UnixMilli(), // server receive time, not the client's clock
		MessageID: upd.MessageID,
		Path:      upd.Path,
		Value:     upd.Value,
	}
	if out.PlayerID == "" {
		out.PlayerID = mem.playerID
	}
	l.fanout(out, msg.ConnID)
}

// claimTarget maps an update path to the shared object a claim would
// guard. Paths under the players domain are already fenced per player and
// carry no claims.
func claimTarget(path []string) (string, bool) {
	if len(path) < 2 || path[0] == game.DomainPlayers {
		return "", false
	}
	return path[1], true
}

// fanout delivers env to every member except the excluded originator. A
// full outbox is logged and skipped; the member is reaped through the
// gateway's close detection, never evicted mid-iteration.
func (l *Lobby) fanout(env protocol.Envelope, excludeConn string) int {
	data, err := json.Marshal(env)
	if err != nil {
		l.log.Error("marshal broadcast", zap.Error(err))
		return 0
	}

	delivered := 0
	for connID, mem := range l.conns {
		if connID == excludeConn {
			continue
		}
		select {
		case mem.outbox <- data:
			delivered++
		default:
			l.log.Warn("outbox full, dropping frame", zap.String("player", mem.playerID))
		}
	}
	return delivered
}

func (l *Lobby) broadcastPlayerList() {
	roster := game.Roster(l.joinTimes, l.connectedPlayers())
	l.fanout(protocol.NewPlayerList(roster), "")
}

// sendSync marshals a snapshot of the document inside the lobby
// goroutine, so the bytes stay consistent however long delivery takes.
func (l *Lobby) sendSync(mem *member) {
	state, err := json.Marshal(l.doc)
	if err != nil {
		l.log.Error("marshal state", zap.Error(err))
		return
	}
	l.deliver(mem, protocol.NewSync(state))
}

func (l *Lobby) deliver(mem *member, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		l.log.Error("marshal envelope", zap.Error(err))
		return
	}
	select {
	case mem.outbox <- data:
	default:
		l.log.Warn("outbox full, dropping frame", zap.String("player", mem.playerID))
	}
}

func (l *Lobby) connectedPlayers() map[string]bool {
	connected := make(map[string]bool, len(l.conns))
	for _, mem := range l.conns {
		connected[mem.playerID] = true
	}
	return connected
}

// shutdown drops all members and cancels the context. Outboxes are left
// open; the gateway owns each writer's lifecycle and stops it with the
// connection.
func (l *Lobby) shutdown() {
	for connID := range l.conns {
		delete(l.conns, connID)
	}
	l.cancel()
}
