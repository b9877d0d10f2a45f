// Package protocol defines the wire envelope exchanged over the websocket
// and decodes inbound frames into a tagged union with one variant per
// message type, so handlers can match exhaustively instead of poking at a
// loosely-shaped payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardlab/tabletop-sync-backend/internal/game"
)

// Type discriminates envelopes on the wire.
type Type string

const (
	TypeConnect    Type = "connect"
	TypeSync       Type = "sync"
	TypeUpdate     Type = "update"
	TypeAction     Type = "action"
	TypeError      Type = "error"
	TypePlayerList Type = "playerList"
)

// ServerPlayerID is the reserved sender id on server-originated
// envelopes. Updates carrying it bypass the per-player permission check.
const ServerPlayerID = "server"

var (
	ErrBadEnvelope = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the unit of synchronization on the wire.
//
// Value is kept raw so that an explicit JSON null (the delete tombstone)
// stays distinguishable from an absent key: absent decodes to a nil
// RawMessage, null to the literal bytes "null".
type Envelope struct {
	Type      Type            `json:"type"`
	PlayerID  string          `json:"playerId"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Path      []string        `json:"path,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// ClientMsg is the decoded form of a client frame.
type ClientMsg interface{ isClientMsg() }

// Connect asks to join a lobby under a player identity.
type Connect struct {
	LobbyID  string
	PlayerID string
	Secret   string
}

// Update patches the authoritative document at Path. A Value of literal
// null deletes the subtree.
type Update struct {
	PlayerID  string
	MessageID string
	Path      []string
	Value     json.RawMessage
}

// SyncRequest asks for a fresh copy of the full document.
type SyncRequest struct {
	PlayerID string
}

// Action is the reserved slot for future game-action semantics (draw,
// shuffle). Currently observed and dropped.
type Action struct {
	PlayerID string
	Payload  json.RawMessage
}

func (Connect) isClientMsg()     {}
func (Update) isClientMsg()      {}
func (SyncRequest) isClientMsg() {}
func (Action) isClientMsg()      {}

type connectPayload struct {
	LobbyID  string `json:"lobbyId"`
	PlayerID string `json:"playerId"`
	Secret   string `json:"secret,omitempty"`
}

// Decode parses a raw frame into its ClientMsg variant. Malformed frames
// return ErrBadEnvelope; recognized-but-unsupported types return
// ErrUnknownType so the gateway can log and ignore them.
func Decode(data []byte) (ClientMsg, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	switch env.Type {
	case TypeConnect:
		var p connectPayload
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%w: connect without payload", ErrBadEnvelope)
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
		}
		if p.LobbyID == "" || p.PlayerID == "" {
			return nil, fmt.Errorf("%w: connect missing lobbyId or playerId", ErrBadEnvelope)
		}
		return Connect{LobbyID: p.LobbyID, PlayerID: p.PlayerID, Secret: p.Secret}, nil

	case TypeUpdate:
		if len(env.Path) == 0 {
			return nil, fmt.Errorf("%w: update without path", ErrBadEnvelope)
		}
		if env.Value == nil {
			return nil, fmt.Errorf("%w: update without value", ErrBadEnvelope)
		}
		return Update{
			PlayerID:  env.PlayerID,
			MessageID: env.MessageID,
			Path:      env.Path,
			Value:     env.Value,
		}, nil

	case TypeSync:
		return SyncRequest{PlayerID: env.PlayerID}, nil

	case TypeAction:
		return Action{PlayerID: env.PlayerID, Payload: env.Payload}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// PlayerListPayload carries the join-order-sorted roster plus the raw
// member id list for older clients.
type PlayerListPayload struct {
	Players []game.RosterEntry `json:"players"`
	Members []string           `json:"members"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// NewSync wraps a marshaled document snapshot for delivery to one client.
func NewSync(state json.RawMessage) Envelope {
	return Envelope{
		Type:      TypeSync,
		PlayerID:  ServerPlayerID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   state,
	}
}

// NewPlayerList builds the roster broadcast sent on every join and leave.
func NewPlayerList(roster []game.RosterEntry) Envelope {
	members := make([]string, len(roster))
	for i, e := range roster {
		members[i] = e.ID
	}
	payload, _ := json.Marshal(PlayerListPayload{Players: roster, Members: members})
	return Envelope{
		Type:      TypePlayerList,
		PlayerID:  ServerPlayerID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// NewError builds an error reply for the offending client only.
func NewError(message string) Envelope {
	payload, _ := json.Marshal(errorPayload{Message: message})
	return Envelope{
		Type:      TypeError,
		PlayerID:  ServerPlayerID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}
