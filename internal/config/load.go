package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/pathutil"
)

// Load reads the configuration from Path(). A missing file is created from
// the commented template and the defaults are returned.
func Load() (*Config, error) {
	return LoadFile(Path(), true)
}

// LoadFile reads, validates and path-expands the configuration at path.
// If the file does not exist the defaults are returned, and when create is
// set the default template is written there first.
func LoadFile(path string, create bool) (*Config, error) {
	log := clog.Named("config")
	log.Debug("loading %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if create {
			log.Info("%s not found, writing defaults", path)
			if werr := WriteDefault(path); werr != nil {
				log.Warn("failed to create default config: %v", werr)
			}
		}
		cfg := DefaultConfig()
		expandPaths(cfg)
		return cfg, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	expandPaths(cfg)
	return cfg, nil
}

// expandPaths expands ~ in all path fields.
func expandPaths(cfg *Config) {
	cfg.Shell.Path = pathutil.ExpandHome(cfg.Shell.Path)
	cfg.History.Path = pathutil.ExpandHome(cfg.History.Path)
	cfg.Log.File = pathutil.ExpandHome(cfg.Log.File)
	cfg.Log.AuditFile = pathutil.ExpandHome(cfg.Log.AuditFile)
}
