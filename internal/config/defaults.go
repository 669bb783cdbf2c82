package config

import "github.com/xdg/shelly/internal/safety"

// DefaultConfig returns a Config with all defaults populated.
//
// The greenlist holds read-only inspection commands. Anything that can
// modify files, spawn other programs or reach the network needs approval.
func DefaultConfig() *Config {
	return &Config{
		Shell: ShellConfig{
			StartTimeout:   "10s",
			CommandTimeout: "30s",
			ManTimeout:     "30s",
		},
		Output: OutputConfig{
			MaxLines: 1000,
			MaxChars: 80000,
		},
		Safety: SafetyConfig{
			Greenlist: append([]string(nil), safety.DefaultGreenlist...),
			Operators: append([]string(nil), safety.DefaultOperators...),
		},
		History: HistoryConfig{
			Limit: 100,
		},
		Assistant: AssistantConfig{
			Model:            "claude-3-5-haiku-20241022",
			ContextExchanges: 4,
			MaxSteps:         8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// defaultConfigTemplate is written on first run. It must parse to the same
// values as DefaultConfig.
const defaultConfigTemplate = `# shelly configuration
# Keys left out keep their defaults. Durations use Go syntax: 30s, 5m, 1h.

shell:
  # Shell to run. Empty uses bash, falling back to sh (cmd.exe on Windows).
  # Only POSIX shells are supported; fish and csh are rejected.
  path: ""
  start_timeout: 10s
  # Commands running longer are killed and the session must be restarted.
  # "0" disables the timeout.
  command_timeout: 30s
  man_timeout: 30s

output:
  # Per stream, per command. Output beyond either limit is dropped and the
  # result is marked truncated.
  max_lines: 1000
  max_chars: 80000

safety:
  # Programs that run without asking, when the command contains none of the
  # operators below. Matched against the first word only.
  greenlist:
    - ls
    - pwd
    - cat
    - grep
    - which
    - head
    - tail
    - wc
    - stat
    - whoami
    - echo
    - uname
    - id
    - df
    - du
    - basename
    - dirname
    - realpath
  # Any of these anywhere in a command forces approval.
  operators: ["|", "&", ";", ">", "<", "` + "`" + `", "$(", "\n", "\r"]

approval:
  # Reject requests left undecided this long. Empty waits forever.
  timeout: ""

history:
  # Empty detects the history file from $SHELL.
  path: ""
  limit: 100

assistant:
  model: claude-3-5-haiku-20241022
  context_exchanges: 4
  max_steps: 8

log:
  # Empty paths use $XDG_STATE_HOME/shelly/shelly.log and audit.log.
  file: ""
  level: info
  audit_file: ""
`
