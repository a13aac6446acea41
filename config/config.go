package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the queue core. Values come from the
// environment with sensible defaults for a local Spotizerr backend.
type Config struct {
	BackendURL       string        `env:"SPOTIZERR_BACKEND_URL" envDefault:"http://localhost:7171"`
	Port             int           `env:"SERVER_PORT" envDefault:"8080"`
	DBPath           string        `env:"QUEUE_DB_PATH"`
	DownloadLocation string        `env:"DOWNLOAD_LOCATION"`
	CORSOrigins      string        `env:"CORS_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	FirstPollDelay   time.Duration `env:"FIRST_POLL_DELAY" envDefault:"1s"`
	RequestTimeout   time.Duration `env:"POLL_REQUEST_TIMEOUT" envDefault:"10s"`
	RetryCeiling     int           `env:"POLL_RETRY_CEILING" envDefault:"10"`
	MaxActivePolls   int           `env:"MAX_ACTIVE_POLLS" envDefault:"8"`
	RetentionWindow  time.Duration `env:"TERMINAL_RETENTION" envDefault:"24h"`
	PendingTimeout   time.Duration `env:"PENDING_TIMEOUT" envDefault:"30m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
}

// Load parses the configuration from the environment
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.DownloadLocation == "" {
		c.DownloadLocation = defaultDownloadLocation()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the queue cannot run with
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend URL must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RetryCeiling < 1 {
		return fmt.Errorf("retry ceiling must be at least 1, got %d", c.RetryCeiling)
	}
	if c.MaxActivePolls < 1 {
		return fmt.Errorf("max active polls must be at least 1, got %d", c.MaxActivePolls)
	}
	return nil
}

// defaultDBPath places the queue database next to the user's other
// Spotizerr state
func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "spotizerr-queue.db")
	}
	return filepath.Join(homeDir, ".spotizerr", "queue.db")
}

// defaultDownloadLocation mirrors where the backend drops finished
// files so the library endpoints can find them
func defaultDownloadLocation() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "downloads")
	}
	return filepath.Join(homeDir, "Music", "Spotizerr")
}
