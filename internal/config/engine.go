package config

import (
	"fmt"
	"time"

	"github.com/epichb/premiumarr-go/internal/env"
)

// EngineConfig tunes the lifecycle engine's retry budgets and round cadence.
type EngineConfig struct {
	// RecheckCloudDelay is the pause between driver rounds (stage G).
	RecheckCloudDelay        time.Duration `env:"RECHECK_PREMIUMIZE_CLOUD_DELAY"`
	MaxRetryCount            int           `env:"MAX_RETRY_COUNT"`
	MaxCloudDLMoveRetryCount int           `env:"MAX_CLOUD_DL_MOVE_RETRY_COUNT"`
	MaxStateRetryCount       int           `env:"MAX_STATE_RETRY_COUNT"`
	DownloadThreads          int           `env:"DOWNLOAD_THREADS"`
	// DownloadSpeedLimitKB <= 0 disables the bandwidth cap.
	DownloadSpeedLimitKB int `env:"DOWNLOAD_SPEED_LIMIT_KB"`
}

// Validate fills in the defaults the engine was designed around.
func (c *EngineConfig) Validate() error {
	if c.RecheckCloudDelay <= 0 {
		c.RecheckCloudDelay = 60 * time.Second
	}
	if c.MaxRetryCount <= 0 {
		c.MaxRetryCount = 6
	}
	if c.MaxCloudDLMoveRetryCount <= 0 {
		c.MaxCloudDLMoveRetryCount = 3
	}
	if c.MaxStateRetryCount <= 0 {
		c.MaxStateRetryCount = 3
	}
	if c.DownloadThreads <= 0 {
		c.DownloadThreads = 2
	}
	if c.DownloadSpeedLimitKB == 0 {
		c.DownloadSpeedLimitKB = -1
	}
	return nil
}

// LoadEngineConfig loads the lifecycle engine's tuning from the environment.
func LoadEngineConfig() (*EngineConfig, error) {
	cfg := &EngineConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load engine config: %w", err)
	}
	return cfg, nil
}
