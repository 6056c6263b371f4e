package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	LogLevel    string

	// RoomTTL is how long a room may sit idle before the sweep removes
	// it; SweepInterval is how often the sweep runs.
	RoomTTL       time.Duration
	SweepInterval time.Duration
}

// Load reads .env if present, then the environment. Every value has a
// default; DATABASE_URL defaulting to empty disables match history.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("ADDR", ":8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		RoomTTL:       minutes("ROOM_TTL_MINUTES", 30),
		SweepInterval: minutes("SWEEP_INTERVAL_MINUTES", 5),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func minutes(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return time.Duration(fallback) * time.Minute
}
