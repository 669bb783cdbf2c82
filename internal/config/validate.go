package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/xdg/shelly/internal/clog"
)

// Validate checks that all fields contain usable values. The error names
// the offending field, e.g. "safety.greenlist[2]: ...".
func Validate(cfg *Config) error {
	durations := []struct{ value, field string }{
		{cfg.Shell.StartTimeout, "shell.start_timeout"},
		{cfg.Shell.CommandTimeout, "shell.command_timeout"},
		{cfg.Shell.ManTimeout, "shell.man_timeout"},
		{cfg.Approval.Timeout, "approval.timeout"},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if err := validateDuration(d.value, d.field); err != nil {
			return err
		}
	}
	if cfg.Shell.StartTimeout != "" && cfg.Shell.StartTimeoutDuration() <= 0 {
		return fmt.Errorf("shell.start_timeout: must be positive, got %q", cfg.Shell.StartTimeout)
	}

	if cfg.Output.MaxLines < 0 {
		return fmt.Errorf("output.max_lines: must be non-negative, got %d", cfg.Output.MaxLines)
	}
	if cfg.Output.MaxChars < 0 {
		return fmt.Errorf("output.max_chars: must be non-negative, got %d", cfg.Output.MaxChars)
	}

	for i, name := range cfg.Safety.Greenlist {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("safety.greenlist[%d]: must not be empty", i)
		}
		if strings.ContainsAny(name, " \t") {
			return fmt.Errorf("safety.greenlist[%d]: %q must be a single program name", i, name)
		}
	}
	for i, op := range cfg.Safety.Operators {
		if op == "" {
			return fmt.Errorf("safety.operators[%d]: must not be empty", i)
		}
	}

	if cfg.History.Limit < 0 {
		return fmt.Errorf("history.limit: must be non-negative, got %d", cfg.History.Limit)
	}
	if cfg.Assistant.ContextExchanges < 0 {
		return fmt.Errorf("assistant.context_exchanges: must be non-negative, got %d", cfg.Assistant.ContextExchanges)
	}
	if cfg.Assistant.MaxSteps < 0 {
		return fmt.Errorf("assistant.max_steps: must be non-negative, got %d", cfg.Assistant.MaxSteps)
	}

	if _, err := clog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// validateDuration validates that a duration string can be parsed by
// time.ParseDuration and is not negative.
func validateDuration(d, field string) error {
	v, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, d)
	}
	if v < 0 {
		return fmt.Errorf("%s: must not be negative, got %q", field, d)
	}
	return nil
}
