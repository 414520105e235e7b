// Package config loads the mediator's runtime configuration from environment
// variables via reflection-driven struct tags (see internal/env).
package config

import "fmt"

// Config aggregates every configuration section the mediator needs.
type Config struct {
	Paths     PathsConfig
	Remote    RemoteConfig
	Engine    EngineConfig
	Dashboard DashboardConfig
}

// Load reads and validates the full configuration tree in one pass.
func Load() (*Config, error) {
	paths, err := LoadPathsConfig()
	if err != nil {
		return nil, fmt.Errorf("paths: %w", err)
	}
	remote, err := LoadRemoteConfig()
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	engine, err := LoadEngineConfig()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	dashboard, err := LoadDashboardConfig()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	return &Config{
		Paths:     *paths,
		Remote:    *remote,
		Engine:    *engine,
		Dashboard: *dashboard,
	}, nil
}
