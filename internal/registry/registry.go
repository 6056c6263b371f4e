// Package registry owns the in-memory room table and the player->room
// index. Every mutation runs on the hub goroutine; there is no locking
// here on purpose.
package registry

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/protocol"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// MaxPlayers is fixed: this server hosts 2-party matches only.
const MaxPlayers = 2

type Phase string

const (
	PhaseMenu    Phase = "menu"
	PhaseDrawing Phase = "drawing"
	PhaseCombat  Phase = "combat"
	PhaseResults Phase = "results"
)

// Conn is the transport handle the registry holds per member. Send must
// not block; returning false marks the connection dead and the caller
// evicts the player.
type Conn interface {
	Send(payload []byte) bool
	Open() bool
}

type PlayerState struct {
	ID           string
	Ready        bool
	FighterImage string
	Health       int
}

// ActionEntry keeps a recent inbound action for diagnostics and conflict
// context. Entries older than the retention window are pruned on insert.
type ActionEntry struct {
	PlayerID  string
	Action    protocol.ActionData
	Timestamp int64 // server ms
}

type Room struct {
	Code    string
	Members map[string]Conn
	Players map[string]*PlayerState
	Phase   Phase
	Winner  string

	// Ledger is the server-authoritative health table. It is nil until
	// combat starts; values stay in [0,100].
	Ledger map[string]int

	ActionLog            []ActionEntry
	AuthoritativeVersion int
	CombatStartedAt      time.Time
	CreatedAt            time.Time
	LastActivity         time.Time
}

// Snapshot renders the room's shared state for room_joined, phase_change
// and game_restart payloads.
func (rm *Room) Snapshot() protocol.RoomSnapshot {
	players := make(map[string]protocol.PlayerSnapshot, len(rm.Players))
	for id, p := range rm.Players {
		health := p.Health
		if rm.Ledger != nil {
			if h, ok := rm.Ledger[id]; ok {
				health = h
			}
		}
		players[id] = protocol.PlayerSnapshot{
			ID:           p.ID,
			Ready:        p.Ready,
			FighterImage: p.FighterImage,
			Health:       health,
		}
	}
	return protocol.RoomSnapshot{
		Phase:    string(rm.Phase),
		RoomCode: rm.Code,
		Players:  players,
		Winner:   rm.Winner,
	}
}

type Registry struct {
	log         *zap.Logger
	rooms       map[string]*Room
	playerRooms map[string]string
	now         func() time.Time
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		log:         log,
		rooms:       make(map[string]*Room),
		playerRooms: make(map[string]string),
		now:         time.Now,
	}
}

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom allocates a room with a code unique among live rooms.
func (r *Registry) CreateRoom() (string, error) {
	var code string
	for {
		c, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.rooms[c]; !taken {
			code = c
			break
		}
		r.log.Debug("room code collision, regenerating", zap.String("code", c))
	}

	now := r.now()
	r.rooms[code] = &Room{
		Code:         code,
		Members:      make(map[string]Conn),
		Players:      make(map[string]*PlayerState),
		Phase:        PhaseMenu,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.log.Info("room created", zap.String("room", code))
	return code, nil
}

// JoinRoom adds a player, first removing them from any prior room so a
// reconnecting player never occupies two rooms. Joining a room already in
// combat seeds the health ledger at 100 for the newcomer.
func (r *Registry) JoinRoom(code, playerID string, conn Conn) error {
	room, ok := r.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if len(room.Members) >= MaxPlayers {
		return ErrRoomFull
	}

	if prior, ok := r.playerRooms[playerID]; ok && prior != code {
		r.LeaveRoom(prior, playerID)
	}

	room.Members[playerID] = conn
	room.Players[playerID] = &PlayerState{ID: playerID, Health: 100}

	if room.Phase == PhaseCombat {
		if room.Ledger == nil {
			room.Ledger = make(map[string]int)
		}
		room.Ledger[playerID] = 100
	}

	r.playerRooms[playerID] = code
	room.LastActivity = r.now()
	r.log.Info("player joined room",
		zap.String("room", code),
		zap.String("player", playerID),
		zap.Int("players", len(room.Members)))
	return nil
}

// LeaveRoom removes membership and notifies the remaining members. The
// last member leaving deletes the room. Unknown codes and players are
// no-ops.
func (r *Registry) LeaveRoom(code, playerID string) {
	room, ok := r.rooms[code]
	if !ok {
		return
	}

	delete(room.Members, playerID)
	delete(room.Players, playerID)
	delete(r.playerRooms, playerID)

	r.log.Info("player left room",
		zap.String("room", code),
		zap.String("player", playerID),
		zap.Int("players", len(room.Members)))

	r.Broadcast(code, protocol.NewEnvelope(protocol.KindPlayerDisconnected, playerID, struct{}{}), "", false)

	if len(room.Members) == 0 {
		r.deleteRoom(code)
	}
}

func (r *Registry) deleteRoom(code string) {
	room, ok := r.rooms[code]
	if !ok {
		return
	}
	for playerID := range room.Members {
		delete(r.playerRooms, playerID)
	}
	delete(r.rooms, code)
	r.log.Info("room removed", zap.String("room", code))
}

// Room returns the live room for a code, or nil.
func (r *Registry) Room(code string) *Room {
	return r.rooms[code]
}

// RoomByPlayer resolves a player's current room via the index, or nil.
func (r *Registry) RoomByPlayer(playerID string) *Room {
	code, ok := r.playerRooms[playerID]
	if !ok {
		return nil
	}
	return r.rooms[code]
}

// CleanupInactive deletes rooms idle longer than maxIdle and returns how
// many were removed.
func (r *Registry) CleanupInactive(maxIdle time.Duration) int {
	now := r.now()
	var stale []string
	for code, room := range r.rooms {
		if now.Sub(room.LastActivity) > maxIdle {
			stale = append(stale, code)
		}
	}
	for _, code := range stale {
		r.log.Info("cleaning up inactive room", zap.String("room", code))
		r.deleteRoom(code)
	}
	return len(stale)
}

// Stats reports live room and member counts for the stats endpoint.
func (r *Registry) Stats() (rooms, playersInRooms int) {
	rooms = len(r.rooms)
	for _, room := range r.rooms {
		playersInRooms += len(room.Members)
	}
	return rooms, playersInRooms
}
