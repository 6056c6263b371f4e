package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doodleduel/backend/internal/combat"
	"github.com/doodleduel/backend/internal/config"
	"github.com/doodleduel/backend/internal/history"
	"github.com/doodleduel/backend/internal/httpapi"
	"github.com/doodleduel/backend/internal/hub"
	"github.com/doodleduel/backend/internal/registry"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	var recorder combat.Recorder
	if cfg.DatabaseURL != "" {
		store, err := history.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to open match history store", zap.Error(err))
		}
		recorder = store
		logger.Info("match history enabled")
	}

	reg := registry.New(logger)
	auth := combat.New(reg, logger, recorder)
	h := hub.New(context.Background(), reg, auth, logger, cfg.SweepInterval, cfg.RoomTTL)

	handler := httpapi.SetupRoutes(h, logger)

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
