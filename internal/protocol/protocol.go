package protocol

import (
	"encoding/json"
	"time"
)

// Kind is the wire message type. The set is closed: the hub matches
// exhaustively and logs anything it does not recognize.
type Kind string

// Client -> server.
const (
	KindCreateRoom      Kind = "create_room"
	KindJoinRoom        Kind = "join_room"
	KindPlayerReady     Kind = "player_ready"
	KindFighterSubmit   Kind = "fighter_submit"
	KindPlayerAction    Kind = "player_action"
	KindGameStateUpdate Kind = "game_state_update"
	KindRestartGame     Kind = "restart_game"
)

// Server -> client.
const (
	KindConnectionEstablished Kind = "connection_established"
	KindRoomCreated           Kind = "room_created"
	KindRoomJoined            Kind = "room_joined"
	KindPlayerJoined          Kind = "player_joined"
	KindPlayerDisconnected    Kind = "player_disconnected"
	KindPhaseChange           Kind = "phase_change"
	KindServerDamage          Kind = "server_damage"
	KindGameOver              Kind = "game_over"
	KindGameRestart           Kind = "game_restart"
	KindRoomFull              Kind = "room_full"
	KindRoomNotFound          Kind = "room_not_found"
	KindRoomError             Kind = "room_error"
	KindError                 Kind = "error"
)

// ServerIdentity is the sender identity on envelopes that originate from
// the authority rather than a player.
const ServerIdentity = "server"

// Action tags carried inside player_action payloads.
const (
	ActionMove         = "move"
	ActionJump         = "jump"
	ActionAttack       = "attack"
	ActionHealthUpdate = "health_update"
)

// Envelope is the one-object-per-frame wire format. Timestamp is client
// wall clock in milliseconds and is never used for ordering decisions.
type Envelope struct {
	Type      Kind            `json:"type"`
	PlayerID  string          `json:"playerId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope stamps the current server time. Payload types in this
// package marshal without error, so a failure here is a programming bug
// and surfaces as an empty data field rather than a panic.
func NewEnvelope(kind Kind, playerID string, data any) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{
		Type:      kind,
		PlayerID:  playerID,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type JoinRoomData struct {
	RoomCode string `json:"roomCode"`
}

type FighterSubmitData struct {
	// FighterImage is an opaque PNG data URL produced by the drawing tool.
	FighterImage string `json:"fighterImage"`
}

// ActionData is the payload of player_action frames in both directions.
// ServerTimestamp and ClientTimestamp are stamped by the server on relay.
type ActionData struct {
	Action          string    `json:"action"`
	Direction       float64   `json:"direction,omitempty"`
	Position        *Position `json:"position,omitempty"`
	TargetID        string    `json:"targetPlayerId,omitempty"`
	Damage          int       `json:"damage,omitempty"`
	TargetPosition  *Position `json:"targetPosition,omitempty"`
	Health          int       `json:"validatedHealth,omitempty"`
	ServerValidated bool      `json:"serverValidated,omitempty"`
	SequenceID      string    `json:"sequenceId,omitempty"`
	Timestamp       int64     `json:"timestamp,omitempty"`
	ServerTimestamp int64     `json:"serverTimestamp,omitempty"`
	ClientTimestamp int64     `json:"clientTimestamp,omitempty"`
}

// FighterState is the per-fighter slice of a game_state_update payload.
type FighterState struct {
	Position Position `json:"position"`
	Velocity Position `json:"velocity,omitempty"`
	Health   int      `json:"health"`
	Facing   float64  `json:"facing,omitempty"`
}

type GameStateUpdate struct {
	Version  int                     `json:"version"`
	Fighters map[string]FighterState `json:"fighters,omitempty"`
}

type ConnectionEstablishedData struct {
	PlayerID string `json:"playerId"`
}

type RoomCreatedData struct {
	RoomCode string `json:"roomCode"`
}

type RoomJoinedData struct {
	RoomCode    string       `json:"roomCode"`
	PlayerCount int          `json:"playerCount"`
	GameState   RoomSnapshot `json:"gameState"`
}

type PlayerJoinedData struct {
	PlayerCount int    `json:"playerCount"`
	NewPlayerID string `json:"newPlayerId"`
}

type PhaseChangeData struct {
	Phase     string       `json:"phase"`
	GameState RoomSnapshot `json:"gameState"`
}

type ServerDamageData struct {
	AttackerID       string    `json:"attackerId"`
	TargetID         string    `json:"targetId"`
	Damage           int       `json:"damage"`
	NewHealth        int       `json:"newHealth"`
	AttackerPosition *Position `json:"attackerPosition,omitempty"`
}

type GameStats struct {
	RoomCode       string `json:"roomCode"`
	DurationMillis int64  `json:"duration"`
	PlayerCount    int    `json:"playerCount"`
}

type GameOverData struct {
	Winner         string         `json:"winner"`
	DefeatedPlayer string         `json:"defeatedPlayer"`
	FinalHealth    map[string]int `json:"finalHealth"`
	GameStats      GameStats      `json:"gameStats"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// PlayerSnapshot and RoomSnapshot mirror the room's gameState as sent in
// room_joined, phase_change and game_restart.
type PlayerSnapshot struct {
	ID           string `json:"id"`
	Ready        bool   `json:"ready"`
	FighterImage string `json:"fighterImage,omitempty"`
	Health       int    `json:"health"`
}

type RoomSnapshot struct {
	Phase    string                    `json:"phase"`
	RoomCode string                    `json:"roomCode"`
	Players  map[string]PlayerSnapshot `json:"players"`
	Winner   string                    `json:"winner,omitempty"`
}
