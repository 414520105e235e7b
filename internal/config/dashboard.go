package config

import (
	"fmt"

	"github.com/epichb/premiumarr-go/internal/env"
)

// DashboardConfig tunes the read-only HTTP dashboard and carries the
// process-wide LOG_LEVEL. The legacy API stub reads none of these fields.
type DashboardConfig struct {
	Host     string `env:"DASHBOARD_HOST"`
	Port     int    `env:"DASHBOARD_PORT"`
	APIKey   string `env:"DASHBOARD_API_KEY"`
	PageSize int    `env:"DASHBOARD_PAGE_SIZE"`
	LogLevel string `env:"LOG_LEVEL"`
}

// Validate applies the dashboard's defaults. An empty APIKey disables auth.
func (c *DashboardConfig) Validate() error {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	return nil
}

// LoadDashboardConfig loads dashboard configuration from the environment.
func LoadDashboardConfig() (*DashboardConfig, error) {
	cfg := &DashboardConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load dashboard config: %w", err)
	}
	return cfg, nil
}
