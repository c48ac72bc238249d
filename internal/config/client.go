package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// ClientConfig configures the fixfirst client runtime. It is read from the
// environment only.
type ClientConfig struct {
	APIURL      string `env:"FIXFIRST_API_URL" envDefault:"http://localhost:8000"`
	AuthURL     string `env:"FIXFIRST_AUTH_URL" envDefault:"http://localhost:54321"`
	AnonKey     string `env:"FIXFIRST_AUTH_ANON_KEY"`
	WebURL      string `env:"FIXFIRST_WEB_URL" envDefault:"http://localhost:3000"`
	SessionFile string `env:"FIXFIRST_SESSION_FILE"`
	Timeout     string `env:"FIXFIRST_HTTP_TIMEOUT" envDefault:"30s"`
}

// LoadClient parses the client configuration from the environment and fills the
// session file location when it is not set explicitly.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse client env: %w", err)
	}
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.SessionFile = filepath.Join(dir, "fixfirst", "session.json")
	}
	return &cfg, nil
}
