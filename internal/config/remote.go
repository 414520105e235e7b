package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/epichb/premiumarr-go/internal/env"
)

// ErrAPIKeyRequired is returned when no remote credential is configured.
var ErrAPIKeyRequired = errors.New("API_KEY is required")

// RemoteConfig holds credentials and tuning for the cloud-downloader facade.
type RemoteConfig struct {
	APIKey      string `env:"API_KEY"`
	RootDirName string `env:"PREMIUMIZE_CLOUD_ROOT_DIR_NAME"`
	HTTPTimeout time.Duration
}

// Validate rejects a missing API key and applies defaults.
func (c *RemoteConfig) Validate() error {
	if c.APIKey == "" {
		return ErrAPIKeyRequired
	}
	if c.RootDirName == "" {
		c.RootDirName = "premiumarr"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 90 * time.Second
	}
	return nil
}

// LoadRemoteConfig loads remote facade configuration from the environment.
func LoadRemoteConfig() (*RemoteConfig, error) {
	cfg := &RemoteConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load remote config: %w", err)
	}
	return cfg, nil
}
