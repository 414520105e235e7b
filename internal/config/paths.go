package config

import (
	"errors"
	"fmt"

	"github.com/epichb/premiumarr-go/internal/env"
)

// ErrPathRequired is returned when a required filesystem path is not configured.
var ErrPathRequired = errors.New("required path is not set")

// PathsConfig holds the four filesystem roots the engine mutates.
// See spec §6 "Filesystem contract".
type PathsConfig struct {
	BlackholePath string `env:"BLACKHOLE_PATH"`
	DownloadPath  string `env:"DOWNLOAD_PATH"`
	DonePath      string `env:"DONE_PATH"`
	ConfigPath    string `env:"CONFIG_PATH"`
}

// Validate replaces every empty path with its default; it never returns an
// error.
func (c *PathsConfig) Validate() error {
	if c.BlackholePath == "" {
		c.BlackholePath = "/blackhole"
	}
	if c.DownloadPath == "" {
		c.DownloadPath = "/downloads"
	}
	if c.DonePath == "" {
		c.DonePath = "/done"
	}
	if c.ConfigPath == "" {
		c.ConfigPath = "/config"
	}
	return nil
}

// LoadPathsConfig loads the filesystem roots from the environment.
func LoadPathsConfig() (*PathsConfig, error) {
	cfg := &PathsConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load paths config: %w", err)
	}
	return cfg, nil
}

// DBPath is the path to the ledger database file under CONFIG_PATH.
func (c *PathsConfig) DBPath() string {
	return c.ConfigPath + "/data.db"
}

// LogPath is the path to the webviewer-tailable log file under CONFIG_PATH.
func (c *PathsConfig) LogPath() string {
	return c.ConfigPath + "/log/for_webviewer.log"
}

// ArchivePath is where terminally-archived descriptors are moved.
func (c *PathsConfig) ArchivePath() string {
	return c.ConfigPath + "/archive"
}
