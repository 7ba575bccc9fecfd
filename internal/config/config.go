package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport names the collab fan-out backend.
type Transport string

const (
	TransportMemory Transport = "memory"
	TransportNATS   Transport = "nats"
	TransportRedis  Transport = "redis"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/sitemap.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// RulesFile is an optional YAML file overriding rule thresholds and
	// adding custom rules.
	RulesFile       string  `env:"RULES_FILE"`
	SpatialCellSize float64 `env:"SPATIAL_CELL_SIZE" envDefault:"64"`

	PresenceIdleTimeout   time.Duration `env:"PRESENCE_IDLE_TIMEOUT" envDefault:"30s"`
	PresenceSweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"5s"`
	ConflictWindow        time.Duration `env:"CONFLICT_WINDOW" envDefault:"1s"`
	CursorRate            float64       `env:"CURSOR_RATE" envDefault:"20"`
	CursorBurst           int           `env:"CURSOR_BURST" envDefault:"5"`

	CollabTransport Transport `env:"COLLAB_TRANSPORT" envDefault:"memory"`
	NATSURL         string    `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSEmbedded    bool      `env:"NATS_EMBEDDED" envDefault:"false"`
	NATSPort        int       `env:"NATS_PORT" envDefault:"4222"`
	RedisURL        string    `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	SnapshotFlushInterval time.Duration `env:"SNAPSHOT_FLUSH_INTERVAL" envDefault:"2s"`
	SeedDemo              bool          `env:"SEED_DEMO" envDefault:"false"`
}

// Load reads the environment, first filling it from a .env file in the
// working directory when one exists. Variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	switch c.CollabTransport {
	case TransportMemory, TransportNATS, TransportRedis:
	default:
		return fmt.Errorf("COLLAB_TRANSPORT: unknown transport %q", c.CollabTransport)
	}
	switch {
	case c.SpatialCellSize <= 0:
		return errors.New("SPATIAL_CELL_SIZE must be positive")
	case c.PresenceIdleTimeout <= 0 || c.PresenceSweepInterval <= 0:
		return errors.New("presence timeouts must be positive")
	case c.CursorRate <= 0 || c.CursorBurst < 1:
		return errors.New("cursor rate and burst must be positive")
	case c.SnapshotFlushInterval <= 0:
		return errors.New("SNAPSHOT_FLUSH_INTERVAL must be positive")
	}
	return nil
}
