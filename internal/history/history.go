// Package history persists finished-match results. It is optional: the
// server runs without a database and the authority treats a nil recorder
// as a no-op.
package history

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/doodleduel/backend/internal/protocol"
)

type MatchRecord struct {
	ID             uint   `gorm:"primaryKey"`
	RoomCode       string `gorm:"size:6;index"`
	Winner         string
	DefeatedPlayer string
	DurationMillis int64
	PlayerCount    int
	CreatedAt      time.Time
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to postgres and migrates the match table.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// Record implements combat.Recorder. Called off the hub goroutine, so a
// slow insert never stalls message handling; failures are logged and
// dropped.
func (s *Store) Record(result protocol.GameOverData) {
	rec := MatchRecord{
		RoomCode:       result.GameStats.RoomCode,
		Winner:         result.Winner,
		DefeatedPlayer: result.DefeatedPlayer,
		DurationMillis: result.GameStats.DurationMillis,
		PlayerCount:    result.GameStats.PlayerCount,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Error("failed to record match",
			zap.String("room", rec.RoomCode), zap.Error(err))
	}
}
