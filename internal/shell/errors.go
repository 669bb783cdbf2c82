package shell

import (
	"errors"
	"fmt"
)

// Engine-level errors. Command failures (non-zero exit) are not errors; they
// are reported in Result.ExitCode.
var (
	// ErrSessionStart matches every *StartError.
	ErrSessionStart = errors.New("shell session failed to start")
	// ErrCrashed means the shell exited or its pipes broke before the
	// command completed. The session must be restarted.
	ErrCrashed = errors.New("shell session crashed")
	// ErrTimedOut means the command exceeded its timeout. The shell was
	// killed and the session must be restarted.
	ErrTimedOut = errors.New("command timed out")
	// ErrCanceled means the caller's context was canceled while the command
	// ran. The shell was killed and the session must be restarted.
	ErrCanceled = errors.New("command canceled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("shell session closed")
	// ErrBusy is returned when a command is already in flight.
	ErrBusy = errors.New("shell session busy")
	// ErrUnsupportedShell is returned for shells whose syntax the dialect
	// cannot drive.
	ErrUnsupportedShell = errors.New("unsupported shell")
)

// StartError reports that a shell could not be spawned or did not answer the
// startup probe in time.
type StartError struct {
	Shell string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start shell %s: %v", e.Shell, e.Err)
}

// Unwrap exposes both ErrSessionStart and the underlying cause.
func (e *StartError) Unwrap() []error {
	return []error{ErrSessionStart, e.Err}
}

// NeedsRestart reports whether err left the session unusable until Restart.
func NeedsRestart(err error) bool {
	return errors.Is(err, ErrCrashed) || errors.Is(err, ErrTimedOut) || errors.Is(err, ErrCanceled)
}
