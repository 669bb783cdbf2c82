// Package config loads and validates shelly's YAML configuration.
//
// The file lives at $XDG_CONFIG_HOME/shelly/config.yaml. Keys present in the
// file override the defaults; absent keys keep them. Unknown keys are errors.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xdg/shelly/internal/clog"
)

// Config is the complete configuration.
type Config struct {
	Shell     ShellConfig     `yaml:"shell,omitempty"`
	Output    OutputConfig    `yaml:"output,omitempty"`
	Safety    SafetyConfig    `yaml:"safety,omitempty"`
	Approval  ApprovalConfig  `yaml:"approval,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// ShellConfig controls the persistent shell session.
type ShellConfig struct {
	// Path is the shell to run. Empty selects bash, falling back to sh
	// (cmd.exe on Windows).
	Path string `yaml:"path,omitempty"`
	// Durations use time.ParseDuration syntax. "0" disables a timeout.
	StartTimeout   string `yaml:"start_timeout,omitempty"`
	CommandTimeout string `yaml:"command_timeout,omitempty"`
	ManTimeout     string `yaml:"man_timeout,omitempty"`
}

// OutputConfig bounds captured output per stream per command.
type OutputConfig struct {
	MaxLines int `yaml:"max_lines,omitempty"`
	MaxChars int `yaml:"max_chars,omitempty"`
}

// SafetyConfig drives the command classifier.
type SafetyConfig struct {
	// Greenlist names programs that may run without approval.
	Greenlist []string `yaml:"greenlist,omitempty"`
	// Operators force approval wherever they appear in a command.
	Operators OperatorList `yaml:"operators,omitempty"`
}

// OperatorList is the operator set. Entries are written double-quoted, so
// control characters like "\n" read back unchanged.
type OperatorList []string

// MarshalYAML implements yaml.Marshaler.
func (l OperatorList) MarshalYAML() (any, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, op := range l {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: op,
			Style: yaml.DoubleQuotedStyle,
		})
	}
	return seq, nil
}

// ApprovalConfig controls human approval.
type ApprovalConfig struct {
	// Timeout rejects requests left undecided this long. Empty waits forever.
	Timeout string `yaml:"timeout,omitempty"`
}

// HistoryConfig controls the shell history given to the assistant.
type HistoryConfig struct {
	// Path overrides history file detection.
	Path  string `yaml:"path,omitempty"`
	Limit int    `yaml:"limit,omitempty"`
}

// AssistantConfig controls the assistant loop.
type AssistantConfig struct {
	Model            string `yaml:"model,omitempty"`
	ContextExchanges int    `yaml:"context_exchanges,omitempty"`
	MaxSteps         int    `yaml:"max_steps,omitempty"`
}

// LogConfig controls operational and audit logging. Empty paths select the
// defaults under the XDG state directory.
type LogConfig struct {
	File      string `yaml:"file,omitempty"`
	Level     string `yaml:"level,omitempty"`
	AuditFile string `yaml:"audit_file,omitempty"`
}

// parseDurationOr parses s, returning def for empty or invalid input.
// Values are validated before use, so def only covers the empty case.
func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// StartTimeoutDuration returns the shell startup timeout.
func (c ShellConfig) StartTimeoutDuration() time.Duration {
	return parseDurationOr(c.StartTimeout, 10*time.Second)
}

// CommandTimeoutDuration returns the per-command timeout, zero for none.
func (c ShellConfig) CommandTimeoutDuration() time.Duration {
	return parseDurationOr(c.CommandTimeout, 0)
}

// ManTimeoutDuration returns the manual page lookup timeout.
func (c ShellConfig) ManTimeoutDuration() time.Duration {
	return parseDurationOr(c.ManTimeout, 30*time.Second)
}

// TimeoutDuration returns the approval timeout, zero for none.
func (c ApprovalConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 0)
}

// FilePath returns the operational log path.
func (c LogConfig) FilePath() string {
	if c.File == "" {
		return clog.DefaultLogPath()
	}
	return c.File
}

// AuditPath returns the audit log path.
func (c LogConfig) AuditPath() string {
	if c.AuditFile == "" {
		return clog.DefaultAuditPath()
	}
	return c.AuditFile
}
