package registry

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/protocol"
)

// Broadcast serializes env once and fans it out to every member whose
// connection is open, so all recipients see byte-identical payloads.
// excludePlayer, when non-empty, is skipped. A failed send counts as a
// disconnect and cascades into LeaveRoom. silent suppresses the routine
// log line for high-frequency relay traffic.
func (r *Registry) Broadcast(code string, env protocol.Envelope, excludePlayer string, silent bool) {
	room, ok := r.rooms[code]
	if !ok {
		if !silent {
			r.log.Debug("broadcast to unknown room", zap.String("room", code))
		}
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("broadcast marshal failed", zap.String("room", code), zap.Error(err))
		return
	}

	sent := 0
	var dead []string
	for playerID, conn := range room.Members {
		if excludePlayer != "" && playerID == excludePlayer {
			continue
		}
		if conn == nil || !conn.Open() {
			continue
		}
		if !conn.Send(payload) {
			dead = append(dead, playerID)
			continue
		}
		sent++
	}

	// Evict after the loop so the cascading player_disconnected broadcast
	// never runs while we are still ranging over Members.
	for _, playerID := range dead {
		r.log.Warn("send failed, dropping player",
			zap.String("room", code), zap.String("player", playerID))
		r.LeaveRoom(code, playerID)
	}

	if !silent {
		r.log.Debug("broadcast",
			zap.String("room", code),
			zap.String("type", string(env.Type)),
			zap.Int("recipients", sent))
	}
	room.LastActivity = r.now()
}

// SendTo delivers env to a single member of the room, subject to the same
// open/failure handling as Broadcast.
func (r *Registry) SendTo(code, playerID string, env protocol.Envelope) {
	room, ok := r.rooms[code]
	if !ok {
		return
	}
	conn, ok := room.Members[playerID]
	if !ok || conn == nil || !conn.Open() {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("send marshal failed", zap.Error(err))
		return
	}
	if !conn.Send(payload) {
		r.LeaveRoom(code, playerID)
	}
}
