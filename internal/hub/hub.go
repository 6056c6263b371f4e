// Package hub runs the single goroutine that owns all room and registry
// state. Connections feed parsed frames into the inbox; because every
// mutation happens inside this loop, handlers never need locks and the
// inactivity sweep cannot race an in-flight mutation.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/combat"
	"github.com/doodleduel/backend/internal/protocol"
	"github.com/doodleduel/backend/internal/registry"
)

type Msg interface{ isHubMsg() }

// Register announces a freshly accepted connection with its assigned
// identity.
type Register struct {
	PlayerID string
	Conn     registry.Conn
}

// Unregister is sent on transport close or error; it cascades into a
// room-leave for the player.
type Unregister struct {
	PlayerID string
}

// Frame is one decoded inbound envelope. PlayerID is the identity the
// connection was assigned on accept, not whatever the payload claims.
type Frame struct {
	PlayerID string
	Env      protocol.Envelope
}

type GetStats struct {
	Reply chan Stats
}

type Shutdown struct{}

func (Register) isHubMsg()   {}
func (Unregister) isHubMsg() {}
func (Frame) isHubMsg()      {}
func (GetStats) isHubMsg()   {}
func (Shutdown) isHubMsg()   {}

type Stats struct {
	ConnectedPlayers   int `json:"connectedPlayers"`
	ActiveRooms        int `json:"activeRooms"`
	TotalPlayersInRoom int `json:"totalPlayersInRooms"`
}

type Hub struct {
	inbox chan Msg
	reg   *registry.Registry
	auth  *combat.Authority
	log   *zap.Logger
	conns map[string]registry.Conn

	sweepEvery time.Duration
	roomTTL    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, reg *registry.Registry, auth *combat.Authority, log *zap.Logger, sweepEvery, roomTTL time.Duration) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:      make(chan Msg, 64),
		reg:        reg,
		auth:       auth,
		log:        log,
		conns:      make(map[string]registry.Conn),
		sweepEvery: sweepEvery,
		roomTTL:    roomTTL,
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	sweep := time.NewTicker(h.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-sweep.C:
			if n := h.reg.CleanupInactive(h.roomTTL); n > 0 {
				h.log.Info("cleaned up inactive rooms", zap.Int("count", n))
			}

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.PlayerID] = msg.Conn
				h.sendToPlayer(msg.PlayerID, protocol.NewEnvelope(
					protocol.KindConnectionEstablished, msg.PlayerID,
					protocol.ConnectionEstablishedData{PlayerID: msg.PlayerID}))

			case Unregister:
				if room := h.reg.RoomByPlayer(msg.PlayerID); room != nil {
					h.reg.LeaveRoom(room.Code, msg.PlayerID)
				}
				delete(h.conns, msg.PlayerID)

			case Frame:
				h.handleFrame(msg)

			case GetStats:
				rooms, members := h.reg.Stats()
				msg.Reply <- Stats{
					ConnectedPlayers:   len(h.conns),
					ActiveRooms:        rooms,
					TotalPlayersInRoom: members,
				}

			case Shutdown:
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) handleFrame(f Frame) {
	env := f.Env

	// The identity inside the envelope must match the one assigned to the
	// connection; anything else is dropped, never crashed on.
	if env.PlayerID != f.PlayerID {
		h.log.Warn("player identity mismatch",
			zap.String("expected", f.PlayerID),
			zap.String("got", env.PlayerID))
		return
	}

	switch env.Type {
	case protocol.KindCreateRoom:
		h.handleCreateRoom(f.PlayerID)

	case protocol.KindJoinRoom:
		h.handleJoinRoom(f.PlayerID, env)

	case protocol.KindPlayerReady:
		if room := h.requireRoom(f.PlayerID); room != nil {
			h.auth.HandleReady(room, f.PlayerID, env)
		}

	case protocol.KindFighterSubmit:
		if room := h.requireRoom(f.PlayerID); room != nil {
			h.auth.HandleFighterSubmit(room, f.PlayerID, env)
		}

	case protocol.KindPlayerAction:
		if room := h.requireRoom(f.PlayerID); room != nil {
			h.auth.HandleAction(room, f.PlayerID, env)
		}

	case protocol.KindGameStateUpdate:
		if room := h.requireRoom(f.PlayerID); room != nil {
			h.auth.HandleStateSync(room, f.PlayerID, env)
		}

	case protocol.KindRestartGame:
		if room := h.requireRoom(f.PlayerID); room != nil {
			h.auth.HandleRestart(room, f.PlayerID)
		}

	default:
		h.log.Warn("unknown message type",
			zap.String("type", string(env.Type)),
			zap.String("player", f.PlayerID))
	}
}

func (h *Hub) handleCreateRoom(playerID string) {
	code, err := h.reg.CreateRoom()
	if err != nil {
		h.sendError(playerID, protocol.KindRoomError, "Failed to create room")
		return
	}

	// The creator joins their own room immediately.
	if err := h.reg.JoinRoom(code, playerID, h.conns[playerID]); err != nil {
		h.sendError(playerID, protocol.KindRoomError, "Failed to create room")
		return
	}

	h.sendToPlayer(playerID, protocol.NewEnvelope(protocol.KindRoomCreated, playerID,
		protocol.RoomCreatedData{RoomCode: code}))
}

func (h *Hub) handleJoinRoom(playerID string, env protocol.Envelope) {
	var data protocol.JoinRoomData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.RoomCode == "" {
		h.sendError(playerID, protocol.KindError, "Room code is required")
		return
	}

	switch err := h.reg.JoinRoom(data.RoomCode, playerID, h.conns[playerID]); err {
	case nil:
	case registry.ErrRoomNotFound:
		h.sendError(playerID, protocol.KindRoomNotFound, "Room not found")
		return
	case registry.ErrRoomFull:
		h.sendError(playerID, protocol.KindRoomFull, "Room is full")
		return
	default:
		h.sendError(playerID, protocol.KindRoomError, "Failed to join room")
		return
	}

	room := h.reg.Room(data.RoomCode)
	if room == nil {
		h.sendError(playerID, protocol.KindRoomError, "Failed to find room after joining")
		return
	}

	h.sendToPlayer(playerID, protocol.NewEnvelope(protocol.KindRoomJoined, playerID,
		protocol.RoomJoinedData{
			RoomCode:    room.Code,
			PlayerCount: len(room.Members),
			GameState:   room.Snapshot(),
		}))

	h.reg.Broadcast(room.Code, protocol.NewEnvelope(protocol.KindPlayerJoined, playerID,
		protocol.PlayerJoinedData{
			PlayerCount: len(room.Members),
			NewPlayerID: playerID,
		}), "", false)
}

// requireRoom resolves the sender's room, answering with an error
// envelope when they are not in one.
func (h *Hub) requireRoom(playerID string) *registry.Room {
	room := h.reg.RoomByPlayer(playerID)
	if room == nil {
		h.sendError(playerID, protocol.KindError, "Player not in a room")
	}
	return room
}

func (h *Hub) sendToPlayer(playerID string, env protocol.Envelope) {
	conn, ok := h.conns[playerID]
	if !ok || conn == nil || !conn.Open() {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal failed", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	conn.Send(payload)
}

func (h *Hub) sendError(playerID string, kind protocol.Kind, message string) {
	h.sendToPlayer(playerID, protocol.NewEnvelope(kind, playerID,
		protocol.ErrorData{Message: message}))
}
