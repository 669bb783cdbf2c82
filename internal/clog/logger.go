package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxLogSize is the size at which OpenLogFile rolls a log over to
// "<path>.1", replacing any older backup.
const MaxLogSize = 4 << 20

// sink holds the outputs shared by a logger and all loggers derived from it.
type sink struct {
	mu         sync.Mutex
	level      Level
	fileWriter io.Writer
	// owned is the file Configure opened, closed on replacement.
	owned     io.Closer
	errWriter io.Writer
	quiet     bool
}

// Logger handles leveled logging with support for multiple outputs.
// Loggers returned by Named share their parent's outputs and level.
type Logger struct {
	s      *sink
	prefix string
}

// NewLogger creates a logger at info level that echoes warnings and errors
// to stderr and has no file.
func NewLogger() *Logger {
	return &Logger{s: &sink{
		level:     LevelInfo,
		errWriter: os.Stderr,
	}}
}

// out returns the sink to write to. A logger without a sink follows the
// global logger, so component loggers created before Configure still pick up
// the configured outputs.
func (l *Logger) out() *sink {
	if l.s != nil {
		return l.s
	}
	return std.s
}

// Named returns a logger that prefixes each message with "name: ".
// Nested names are joined with a dot.
func (l *Logger) Named(name string) *Logger {
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{s: l.s, prefix: prefix}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// Level returns the current minimum log level.
func (l *Logger) Level() Level {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetFileOutput sets the writer that receives every line at or above the
// level. Nil disables file logging.
func (l *Logger) SetFileOutput(w io.Writer) {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileWriter = w
	s.owned = nil
}

// swapFile installs f as the owned log file and returns the previous one.
func (l *Logger) swapFile(f *os.File) io.Closer {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.owned
	s.owned, s.fileWriter = nil, nil
	if f != nil {
		s.owned, s.fileWriter = f, f
	}
	return old
}

// SetErrOutput sets the stderr writer for warn/error output.
// Pass nil to disable stderr logging.
func (l *Logger) SetErrOutput(w io.Writer) {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errWriter = w
}

// SetQuiet enables or disables quiet mode. In quiet mode, logs only go to
// the file writer. The REPL uses this so warnings do not interleave with
// streamed command output.
func (l *Logger) SetQuiet(quiet bool) {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiet = quiet
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// log writes one line: timestamped to the file, short to stderr.
func (l *Logger) log(level Level, format string, args ...any) {
	s := l.out()
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + ": " + msg
	}

	if s.fileWriter != nil {
		timestamp := time.Now().UTC().Format(time.RFC3339)
		_, _ = fmt.Fprintf(s.fileWriter, "%s [%s] %s\n", timestamp, level, msg)
	}

	if !s.quiet && s.errWriter != nil && level >= LevelWarn {
		_, _ = fmt.Fprintf(s.errWriter, "[%s] %s\n", level, msg)
	}
}

// OpenLogFile opens path for appending, creating its directory. A file
// already larger than MaxLogSize is first renamed to "<path>.1".
func OpenLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > MaxLogSize {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, fmt.Errorf("rotate log file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return f, nil
}

// StateDir returns the shelly state directory following XDG conventions:
// $XDG_STATE_HOME/shelly, or ~/.local/state/shelly.
func StateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "shelly")
}

// DefaultLogPath returns the default operational log path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "shelly.log")
}

// DefaultAuditPath returns the default audit log path.
func DefaultAuditPath() string {
	return filepath.Join(StateDir(), "audit.log")
}
