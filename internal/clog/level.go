// Package clog is shelly's operational log. It records what the engine did
// (session starts, timeouts, classifier reloads) for whoever debugs it later.
// What the user should see goes through internal/term, and the decision
// trail for commands goes through internal/audit.
//
// Every line goes to the log file when one is configured. Warnings and
// errors are also echoed to stderr unless the logger is quiet. Components log
// through Named loggers so each line names its source ("session: ...").
package clog

import (
	"errors"
	"fmt"
	"strings"
)

// Level is the severity of a log line.
type Level int

// Levels in increasing severity. Debug lines are written only with --debug
// or log.level set to debug.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// ErrUnknownLevel is returned by ParseLevel for names it does not know.
var ErrUnknownLevel = errors.New("unknown log level")

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level name from the config, ignoring case. Empty means
// info. "warning" and "err" are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("%w %q: want debug, info, warn or error", ErrUnknownLevel, s)
}
