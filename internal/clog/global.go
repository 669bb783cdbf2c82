package clog

import (
	"errors"
	"io"
	"os"
)

// std backs the package-level functions and every Named logger.
var std = NewLogger()

// Configure sets the global level and, when logPath is not empty, appends
// to that file. debug forces LevelDebug. An unknown level selects info and
// is reported after the file is set up.
func Configure(logPath, level string, debug bool) error {
	lvl, lerr := ParseLevel(level)
	if debug {
		lvl, lerr = LevelDebug, nil
	}
	std.SetLevel(lvl)
	if logPath == "" {
		return lerr
	}
	f, err := OpenLogFile(logPath)
	if err != nil {
		return errors.Join(err, lerr)
	}
	if old := std.swapFile(f); old != nil {
		_ = old.Close()
	}
	return lerr
}

// Named returns a component logger that follows the global logger, including
// outputs configured after it was created.
func Named(name string) *Logger {
	return &Logger{prefix: name}
}

// SetQuiet stops echoing warnings and errors to stderr.
func SetQuiet(quiet bool) { std.SetQuiet(quiet) }

// Debug logs at debug level on the global logger.
func Debug(format string, args ...any) { std.log(LevelDebug, format, args...) }

// Info logs at info level on the global logger.
func Info(format string, args ...any) { std.log(LevelInfo, format, args...) }

// Warn logs at warn level on the global logger.
func Warn(format string, args ...any) { std.log(LevelWarn, format, args...) }

// Error logs at error level on the global logger.
func Error(format string, args ...any) { std.log(LevelError, format, args...) }

// Close closes the log file opened by Configure, if any.
func Close() error {
	if old := std.swapFile(nil); old != nil {
		return old.Close()
	}
	return nil
}

// Reset restores the global logger's defaults: info level, stderr only.
func Reset() {
	s := std.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = LevelInfo
	s.fileWriter, s.owned = nil, nil
	s.errWriter = os.Stderr
	s.quiet = false
}

// Discard drops all global output. Tests call it from TestMain.
func Discard() {
	std.SetFileOutput(io.Discard)
	std.SetErrOutput(io.Discard)
}
