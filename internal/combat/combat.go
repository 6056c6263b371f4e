// Package combat is the per-room authority: it drives the phase machine,
// owns the health ledger, resolves attacks, and declares game over. Peers
// never decide combat outcomes locally.
package combat

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/protocol"
	"github.com/doodleduel/backend/internal/registry"
)

const (
	startingHealth = 100

	// Damage per landed attack is uniform in [minDamage, maxDamage].
	minDamage = 5
	maxDamage = 10

	// actionLogWindow bounds the per-room recent-action history.
	actionLogWindow = 10 * time.Second

	// Limits for the distance-validated health_update path.
	maxValidatedDamage   = 50
	maxValidatedDistance = 100
)

// Recorder receives finished-match results. A nil Recorder is a no-op;
// implementations must tolerate being called from a short-lived goroutine.
type Recorder interface {
	Record(result protocol.GameOverData)
}

type Authority struct {
	reg *registry.Registry
	log *zap.Logger
	rec Recorder

	// roll and now are swappable so tests can pin damage and duration.
	roll func(min, max int) int
	now  func() time.Time
}

func New(reg *registry.Registry, log *zap.Logger, rec Recorder) *Authority {
	return &Authority{
		reg: reg,
		log: log,
		rec: rec,
		roll: func(min, max int) int {
			return min + rand.Intn(max-min+1)
		},
		now: time.Now,
	}
}

// HandleReady marks the player ready and echoes the event to the room.
func (a *Authority) HandleReady(room *registry.Room, playerID string, env protocol.Envelope) {
	if p, ok := room.Players[playerID]; ok {
		p.Ready = true
	}
	a.reg.Broadcast(room.Code, env, "", false)
}

// HandleFighterSubmit stores the drawn fighter, marks the player ready,
// relays the submission, and starts combat once every member is ready and
// the room is full enough to fight.
func (a *Authority) HandleFighterSubmit(room *registry.Room, playerID string, env protocol.Envelope) {
	var data protocol.FighterSubmitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		a.log.Warn("malformed fighter_submit", zap.String("player", playerID), zap.Error(err))
		return
	}

	if p, ok := room.Players[playerID]; ok {
		p.FighterImage = data.FighterImage
		p.Ready = true
	}

	a.reg.Broadcast(room.Code, env, "", false)

	if a.allReady(room) && len(room.Members) >= registry.MaxPlayers {
		a.startCombat(room)
	}
}

func (a *Authority) allReady(room *registry.Room) bool {
	for _, p := range room.Players {
		if !p.Ready {
			return false
		}
	}
	return len(room.Players) > 0
}

func (a *Authority) startCombat(room *registry.Room) {
	a.log.Info("all players ready, starting combat", zap.String("room", room.Code))

	room.Phase = registry.PhaseCombat
	room.CombatStartedAt = a.now()
	room.Ledger = make(map[string]int, len(room.Players))
	for id := range room.Players {
		room.Ledger[id] = startingHealth
	}

	a.reg.Broadcast(room.Code, protocol.NewEnvelope(protocol.KindPhaseChange, protocol.ServerIdentity,
		protocol.PhaseChangeData{
			Phase:     string(registry.PhaseCombat),
			GameState: room.Snapshot(),
		}), "", false)
}

// HandleAction routes a relay-action. Attacks and health_update damage
// claims go through the authoritative paths; everything else (move, jump,
// state pings) is relayed verbatim to the other members, silently.
func (a *Authority) HandleAction(room *registry.Room, playerID string, env protocol.Envelope) {
	var action protocol.ActionData
	if err := json.Unmarshal(env.Data, &action); err != nil {
		a.log.Warn("malformed player_action", zap.String("player", playerID), zap.Error(err))
		return
	}

	serverTS := a.now().UnixMilli()
	action.ServerTimestamp = serverTS
	if action.Timestamp != 0 {
		action.ClientTimestamp = action.Timestamp
	} else {
		action.ClientTimestamp = serverTS
	}

	a.recordAction(room, playerID, action)

	switch action.Action {
	case protocol.ActionAttack:
		a.resolveAttack(room, playerID, action)
	case protocol.ActionHealthUpdate:
		a.applyValidatedDamage(room, playerID, action)
	default:
		a.reg.Broadcast(room.Code,
			protocol.NewEnvelope(protocol.KindPlayerAction, playerID, action),
			playerID, true)
	}
}

func (a *Authority) recordAction(room *registry.Room, playerID string, action protocol.ActionData) {
	room.ActionLog = append(room.ActionLog, registry.ActionEntry{
		PlayerID:  playerID,
		Action:    action,
		Timestamp: action.ServerTimestamp,
	})
	cutoff := a.now().Add(-actionLogWindow).UnixMilli()
	kept := room.ActionLog[:0]
	for _, e := range room.ActionLog {
		if e.Timestamp > cutoff {
			kept = append(kept, e)
		}
	}
	room.ActionLog = kept
}

// resolveAttack damages every other member still above zero. No range
// check is applied here; position only rides along so peers can orient
// the hit animation.
func (a *Authority) resolveAttack(room *registry.Room, attackerID string, action protocol.ActionData) {
	if room.Ledger == nil {
		room.Ledger = make(map[string]int, len(room.Players))
		for id := range room.Players {
			room.Ledger[id] = startingHealth
		}
	}

	for targetID := range room.Players {
		if targetID == attackerID {
			continue
		}
		oldHealth, tracked := room.Ledger[targetID]
		if !tracked || oldHealth <= 0 {
			continue
		}

		damage := a.roll(minDamage, maxDamage)
		newHealth := max(0, oldHealth-damage)
		room.Ledger[targetID] = newHealth

		a.log.Info("server damage",
			zap.String("room", room.Code),
			zap.String("attacker", attackerID),
			zap.String("target", targetID),
			zap.Int("damage", damage),
			zap.Int("health", newHealth))

		a.reg.Broadcast(room.Code, protocol.NewEnvelope(protocol.KindServerDamage, protocol.ServerIdentity,
			protocol.ServerDamageData{
				AttackerID:       attackerID,
				TargetID:         targetID,
				Damage:           damage,
				NewHealth:        newHealth,
				AttackerPosition: action.Position,
			}), "", false)

		if newHealth <= 0 {
			a.checkGameOver(room, targetID)
		}
	}

	// Relay the raw attack so peers can play the swing animation. Not
	// validated, excludes the attacker.
	a.reg.Broadcast(room.Code,
		protocol.NewEnvelope(protocol.KindPlayerAction, attackerID, action),
		attackerID, true)
}

// applyValidatedDamage is the stricter path behind health_update claims:
// the claimed target, damage magnitude and attack distance are all
// checked, and anomalies are dropped with a warning.
func (a *Authority) applyValidatedDamage(room *registry.Room, attackerID string, action protocol.ActionData) {
	if action.TargetID == "" || action.Damage <= 0 || action.Damage > maxValidatedDamage {
		a.log.Warn("invalid damage claim",
			zap.String("player", attackerID), zap.Int("damage", action.Damage))
		return
	}
	if _, ok := room.Players[action.TargetID]; !ok {
		a.log.Warn("damage target not in room",
			zap.String("room", room.Code), zap.String("target", action.TargetID))
		return
	}
	if action.Position != nil && action.TargetPosition != nil {
		dx := action.Position.X - action.TargetPosition.X
		dy := action.Position.Y - action.TargetPosition.Y
		if math.Hypot(dx, dy) > maxValidatedDistance {
			a.log.Warn("suspicious attack distance", zap.String("player", attackerID))
			return
		}
	}

	if room.Ledger == nil {
		room.Ledger = make(map[string]int)
	}
	oldHealth, tracked := room.Ledger[action.TargetID]
	if !tracked {
		oldHealth = startingHealth
	}
	newHealth := max(0, oldHealth-action.Damage)
	room.Ledger[action.TargetID] = newHealth

	action.Health = newHealth
	action.ServerValidated = true
	a.reg.Broadcast(room.Code,
		protocol.NewEnvelope(protocol.KindPlayerAction, attackerID, action), "", false)

	if newHealth <= 0 {
		a.checkGameOver(room, action.TargetID)
	}
}

// checkGameOver ends the match when at most one tracked member is still
// alive. It is idempotent: once the room is in results, later zero-health
// events never re-broadcast game_over.
func (a *Authority) checkGameOver(room *registry.Room, defeatedID string) {
	if room.Phase == registry.PhaseResults {
		return
	}
	if room.Ledger == nil {
		return
	}

	var alive []string
	for id, health := range room.Ledger {
		if health > 0 {
			alive = append(alive, id)
		}
	}
	if len(alive) > 1 {
		return
	}

	winner := ""
	if len(alive) == 1 {
		winner = alive[0]
	}

	room.Phase = registry.PhaseResults
	room.Winner = winner

	finalHealth := make(map[string]int, len(room.Ledger))
	for id, h := range room.Ledger {
		finalHealth[id] = h
	}

	result := protocol.GameOverData{
		Winner:         winner,
		DefeatedPlayer: defeatedID,
		FinalHealth:    finalHealth,
		GameStats: protocol.GameStats{
			RoomCode:       room.Code,
			DurationMillis: a.now().Sub(room.CombatStartedAt).Milliseconds(),
			PlayerCount:    len(room.Players),
		},
	}

	a.log.Info("game over",
		zap.String("room", room.Code),
		zap.String("winner", winner),
		zap.String("defeated", defeatedID))

	a.reg.Broadcast(room.Code,
		protocol.NewEnvelope(protocol.KindGameOver, protocol.ServerIdentity, result), "", false)

	if a.rec != nil {
		// Off the hub goroutine; a slow database must not stall handlers.
		go a.rec.Record(result)
	}
}

// HandleStateSync gates game_state_update frames on the version counter:
// only strictly newer versions are accepted and rebroadcast, giving
// last-writer-wins semantics without trusting client clocks.
func (a *Authority) HandleStateSync(room *registry.Room, playerID string, env protocol.Envelope) {
	var update protocol.GameStateUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		a.log.Warn("malformed game_state_update", zap.String("player", playerID), zap.Error(err))
		return
	}

	if update.Version <= room.AuthoritativeVersion {
		return
	}
	room.AuthoritativeVersion = update.Version

	a.reg.Broadcast(room.Code,
		protocol.NewEnvelope(protocol.KindGameStateUpdate, protocol.ServerIdentity, update), "", true)
}

// HandleRestart moves a finished room back to drawing: ledger, winner and
// combat clock cleared, every player unreadied with their image dropped.
func (a *Authority) HandleRestart(room *registry.Room, playerID string) {
	a.log.Info("restarting game", zap.String("room", room.Code), zap.String("player", playerID))

	room.Phase = registry.PhaseDrawing
	room.Winner = ""
	room.Ledger = nil
	room.CombatStartedAt = time.Time{}
	for _, p := range room.Players {
		p.Ready = false
		p.FighterImage = ""
		p.Health = startingHealth
	}

	a.reg.Broadcast(room.Code, protocol.NewEnvelope(protocol.KindGameRestart, protocol.ServerIdentity,
		protocol.PhaseChangeData{
			Phase:     string(registry.PhaseDrawing),
			GameState: room.Snapshot(),
		}), "", false)
}
