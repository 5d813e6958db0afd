package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads from the environment. The
// signing secret and TTLs are injected into the auth service at construction;
// nothing in the core reads ambient globals.
type Config struct {
	HTTPAddr     string        `env:"AUTHGATE_HTTP_ADDR" envDefault:":8080"`
	PostgresDSN  string        `env:"AUTHGATE_PG_DSN"`
	AuthSecret   string        `env:"AUTHGATE_AUTH_SECRET"`
	Issuer       string        `env:"AUTHGATE_ISSUER" envDefault:"authgate"`
	AccessTTL    time.Duration `env:"AUTHGATE_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL   time.Duration `env:"AUTHGATE_REFRESH_TTL" envDefault:"336h"`
	BcryptCost   int           `env:"AUTHGATE_BCRYPT_COST" envDefault:"12"`
	StoreTimeout time.Duration `env:"AUTHGATE_STORE_TIMEOUT" envDefault:"3s"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
