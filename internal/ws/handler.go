// Package ws terminates websocket connections and bridges them to the
// lobby registry. Each connection walks a small state machine: OPEN on
// accept, JOINED once a lobby association exists, CLOSED when the
// transport drops (which always triggers Leave).
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/hub"
	"github.com/cardlab/tabletop-sync-backend/internal/lobby"
	"github.com/cardlab/tabletop-sync-backend/internal/protocol"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 256
)

// session is one connection's gateway-side state.
type session struct {
	connID string
	conn   *websocket.Conn
	lb     *lobby.Lobby
	outbox chan []byte
	log    *zap.Logger
}

func (s *session) joined() bool { return s.lb != nil }

// Handler upgrades qualifying requests to the sync protocol. The lobby
// and player ids may arrive as query parameters for an immediate join, or
// later in an explicit connect envelope.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // cross-origin browser clients are expected
		})
		if err != nil {
			log.Info("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "session ended")

		s := &session{
			connID: uuid.NewString(),
			conn:   conn,
			outbox: make(chan []byte, outboxSize),
			log:    log.With(zap.String("remote", r.RemoteAddr)),
		}

		ctx := r.Context()
		writeCtx, stopWriter := context.WithCancel(ctx)
		defer stopWriter()
		go s.writePump(writeCtx)

		defer func() {
			if s.joined() {
				s.lb.Send(lobby.Leave{ConnID: s.connID})
			}
		}()

		q := r.URL.Query()
		if lobbyID, playerID := q.Get("lobby"), q.Get("player"); lobbyID != "" && playerID != "" {
			if !s.join(h, lobbyID, playerID, q.Get("secret")) {
				s.sendError("lobby unavailable")
				return
			}
		}

		s.readLoop(ctx, h)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func (s *session) readLoop(ctx context.Context, h *hub.Hub) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				s.log.Debug("ignoring frame", zap.Error(err))
				continue
			}
			// protocol error: reply to the sender only, connection stays open
			s.sendError("invalid message format")
			continue
		}

		switch m := msg.(type) {
		case protocol.Connect:
			if s.joined() {
				s.log.Debug("connect on joined connection ignored")
				continue
			}
			if !s.join(h, m.LobbyID, m.PlayerID, m.Secret) {
				s.sendError("lobby unavailable")
			}

		case protocol.Update:
			if !s.joined() {
				continue // never joined; silent drop
			}
			s.lb.Send(lobby.Apply{ConnID: s.connID, Update: m})

		case protocol.SyncRequest:
			if s.joined() {
				s.lb.Send(lobby.ResyncRequest{ConnID: s.connID})
			}

		case protocol.Action:
			// reserved dispatch slot for game actions (draw, shuffle)
			s.log.Debug("action received", zap.String("player", m.PlayerID))
		}
	}
}

// join resolves the lobby through the registry and registers this
// connection. The ensure/send pair retries once: the lobby can empty out
// and shut down between the two steps.
func (s *session) join(h *hub.Hub, lobbyID, playerID, secret string) bool {
	for attempt := 0; attempt < 2; attempt++ {
		lb := h.Ensure(lobbyID)
		if lb == nil {
			return false
		}
		ok := lb.Send(lobby.Join{
			ConnID:   s.connID,
			PlayerID: playerID,
			Secret:   secret,
			Outbox:   s.outbox,
		})
		if ok {
			s.lb = lb
			s.log.Info("joined lobby",
				zap.String("lobby", lobbyID),
				zap.String("player", playerID))
			return true
		}
	}
	return false
}

func (s *session) writePump(ctx context.Context) {
	for {
		select {
		case data, ok := <-s.outbox:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendError enqueues an error reply for this connection only. It goes
// through the outbox so the write pump stays the sole writer.
func (s *session) sendError(message string) {
	data, err := json.Marshal(protocol.NewError(message))
	if err != nil {
		return
	}
	select {
	case s.outbox <- data:
	default:
		s.log.Warn("outbox full, dropping error reply")
	}
}
