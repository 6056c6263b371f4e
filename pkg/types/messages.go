package types

// Wire protocol notes for frontend integrators. The envelope is one JSON
// object per text frame:
//
//   { type, playerId, data, timestamp }
//
// Client -> Server
// create_room: {}
//
// join_room:
//   roomCode: string (6 chars, A-Z0-9)
//
// player_ready: {}
//
// fighter_submit:
//   fighterImage: string (PNG data URL)
//
// player_action:
//   action: "move" | "jump" | "attack" | "health_update"
//   direction?: number
//   position?: { x, y }
//   sequenceId: string (client-generated, monotonic per player)
//
// game_state_update:
//   version: number (strictly increasing; stale versions are dropped)
//   fighters?: { [playerId]: { position, velocity, health, facing } }
//
// restart_game: {}
//
// Server -> Client
// connection_established: { playerId }
// room_created:  { roomCode }
// room_joined:   { roomCode, playerCount, gameState }
// player_joined: { playerCount, newPlayerId }
// player_disconnected: {} (playerId on the envelope)
// phase_change:  { phase, gameState }
// server_damage: { attackerId, targetId, damage, newHealth, attackerPosition }
// game_over:     { winner, defeatedPlayer, finalHealth, gameStats }
// game_restart:  { phase, gameState }
// room_full | room_not_found | room_error | error: { message }
