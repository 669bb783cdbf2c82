package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/pathutil"
)

// Dir returns $XDG_CONFIG_HOME/shelly, or ~/.config/shelly.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = "~/.config"
	}
	return filepath.Join(pathutil.ExpandHome(base), "shelly")
}

// Path returns the default configuration file.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// WriteDefault writes the commented template to path unless a file is
// already there.
func WriteDefault(path string) error {
	switch _, err := os.Stat(path); {
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat config file: %w", err)
	}
	return writeFile(path, []byte(defaultConfigTemplate))
}

// Write replaces the file at path with cfg. Comments are not preserved.
func Write(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile writes data next to path and renames it into place, so a
// running Watch never reads a half-written file. Files are user-only.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Edit opens path in $EDITOR (default vi), creating it from the template
// first. EDITOR may carry arguments, as in "code --wait". The edited file is
// validated and kept even when invalid, so the user can fix it.
func Edit(path string) error {
	if err := WriteDefault(path); err != nil {
		return fmt.Errorf("create default config: %w", err)
	}

	argv := strings.Fields(os.Getenv("EDITOR"))
	if len(argv) == 0 {
		argv = []string{"vi"}
	}
	cmd := exec.Command(argv[0], append(argv[1:], path)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %q failed: %w", argv[0], err)
	}

	if _, err := LoadFile(path, false); err != nil {
		clog.Named("config").Warn("config has errors after edit: %v", err)
		return err
	}
	return nil
}
