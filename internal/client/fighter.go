package client

import (
	"time"

	"github.com/doodleduel/backend/internal/protocol"
)

const (
	fighterMoveSpeed = 150.0 // px/s, matches lag compensation
	jumpVelocity     = -400.0
	attackReach      = 80.0
	maxHealth        = 100
)

// Fighter is the capability surface the combat view drives. Two variants
// exist: an animated fighter backed by the player's drawn image, and a
// static placeholder used when no drawing is available. The variant is
// chosen by image availability, never by probing methods at runtime.
type Fighter interface {
	Move(direction float64, dt time.Duration)
	Jump()
	Attack() (hitX float64, ok bool)
	TakeDamage(amount int) int
	RefreshVisual()

	Position() protocol.Position
	Health() int
	Alive() bool
}

// NewFighter picks the variant: a drawn image yields the animated
// fighter, otherwise the static placeholder.
func NewFighter(playerID, imageData string, start protocol.Position) Fighter {
	base := baseFighter{
		playerID: playerID,
		pos:      start,
		health:   maxHealth,
		facing:   1,
	}
	if imageData != "" {
		return &animatedFighter{baseFighter: base, image: imageData}
	}
	return &staticFighter{baseFighter: base}
}

type baseFighter struct {
	playerID string
	pos      protocol.Position
	vy       float64
	facing   float64
	health   int
	airborne bool
}

func (f *baseFighter) Move(direction float64, dt time.Duration) {
	if direction == 0 || !f.Alive() {
		return
	}
	if direction > 0 {
		f.facing = 1
	} else {
		f.facing = -1
	}
	f.pos.X += fighterMoveSpeed * dt.Seconds() * direction
}

func (f *baseFighter) Jump() {
	if f.airborne || !f.Alive() {
		return
	}
	f.vy = jumpVelocity
	f.airborne = true
}

// Land is called by the physics owner when the fighter touches ground.
func (f *baseFighter) Land() {
	f.vy = 0
	f.airborne = false
}

func (f *baseFighter) Attack() (float64, bool) {
	if !f.Alive() {
		return 0, false
	}
	return f.pos.X + f.facing*attackReach, true
}

// TakeDamage applies local, presentational damage and returns the new
// health. The server's ledger remains authoritative; server_damage events
// overwrite this value.
func (f *baseFighter) TakeDamage(amount int) int {
	if amount < 0 {
		amount = 0
	}
	f.health = max(0, f.health-amount)
	return f.health
}

func (f *baseFighter) Position() protocol.Position { return f.pos }
func (f *baseFighter) Health() int                 { return f.health }
func (f *baseFighter) Alive() bool                 { return f.health > 0 }

// staticFighter is the fallback when the player never drew anything.
type staticFighter struct {
	baseFighter
}

func (f *staticFighter) RefreshVisual() {}

// animatedFighter carries the drawn PNG data URL; RefreshVisual flags the
// renderer to re-texture the sprite.
type animatedFighter struct {
	baseFighter
	image string
	dirty bool
}

func (f *animatedFighter) RefreshVisual() { f.dirty = true }

// Image returns the drawn fighter's PNG data URL and clears the redraw
// flag.
func (f *animatedFighter) Image() string {
	f.dirty = false
	return f.image
}
