// Package hub is the lobby registry: the single owner of the lobby map.
// All access goes through its inbox, so lookup, creation and the eager
// garbage collection of emptied lobbies never race.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

// EnsureLobby returns the lobby for ID, creating it with an empty
// GameState on first reference.
type EnsureLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// GetLobby looks up an existing lobby; Reply receives nil if absent.
type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// RemoveLobby drops a lobby from the registry. Sent by a lobby's own
// onEmpty callback once its last member has disconnected.
type RemoveLobby struct{ ID string }

type ShutdownHub struct{}

func (EnsureLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is the synchronous form of EnsureLobby.
func (h *Hub) Ensure(id string) *lobby.Lobby {
	if h.ctx.Err() != nil {
		return nil
	}
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{ID: id, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	}
}

// Get is the synchronous form of GetLobby. Returns nil if absent.
func (h *Hub) Get(id string) *lobby.Lobby {
	if h.ctx.Err() != nil {
		return nil
	}
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- GetLobby{ID: id, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					msg.Reply <- lb
					break
				}
				h.log.Info("creating lobby", zap.String("lobby", msg.ID))
				lb := lobby.New(h.ctx, msg.ID, h.log, h.reportEmpty)
				h.lobbies[msg.ID] = lb
				msg.Reply <- lb

			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // may be nil

			case RemoveLobby:
				if _, ok := h.lobbies[msg.ID]; ok {
					h.log.Info("removing empty lobby", zap.String("lobby", msg.ID))
					delete(h.lobbies, msg.ID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// reportEmpty runs on the emptied lobby's goroutine; the buffered inbox
// keeps it from blocking there.
func (h *Hub) reportEmpty(id string) {
	select {
	case h.inbox <- RemoveLobby{ID: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}
