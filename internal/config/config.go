// Package config loads environment-based configuration for the session
// daemon. A .env file in the working directory is honoured when present.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds all environment-based configuration.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"sessiond"`

	// Environment controls log format ("development" or "production").
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Identity backend. When IdentityBaseURL is empty the daemon runs
	// against the in-memory backend.
	IdentityBaseURL string `env:"IDENTITY_BASE_URL"`
	IdentityAPIKey  string `env:"IDENTITY_API_KEY"`

	// StateDBPath is the bbolt file holding the persisted session. Defaults
	// to ~/.sessiond/state.db.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Social sign-in (optional; the social provider is only wired when
	// SocialIssuerURL is set).
	SocialProviderID   string `env:"SOCIAL_PROVIDER_ID" envDefault:"google.com"`
	SocialIssuerURL    string `env:"SOCIAL_ISSUER_URL"`
	SocialClientID     string `env:"SOCIAL_CLIENT_ID"`
	SocialClientSecret string `env:"SOCIAL_CLIENT_SECRET"`
	SocialRedirectURL  string `env:"SOCIAL_REDIRECT_URL"`
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] parsing environment")
	}

	if cfg.StateDBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "[config.Load] resolving home directory")
		}
		cfg.StateDBPath = filepath.Join(home, ".sessiond", "state.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "[config.Load] validating config")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.IdentityBaseURL != "" && c.IdentityAPIKey == "" {
		return errors.New("IDENTITY_API_KEY is required when IDENTITY_BASE_URL is set")
	}
	if c.SocialIssuerURL != "" && (c.SocialClientID == "" || c.SocialRedirectURL == "") {
		return errors.New("SOCIAL_CLIENT_ID and SOCIAL_REDIRECT_URL are required when SOCIAL_ISSUER_URL is set")
	}
	return nil
}
