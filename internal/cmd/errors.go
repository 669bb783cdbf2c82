package cmd

import (
	"errors"
	"fmt"

	"github.com/xdg/shelly/internal/dispatch"
	"github.com/xdg/shelly/internal/shell"
)

// ExitTimedOut is the exit status for a command killed by its timeout,
// matching timeout(1).
const ExitTimedOut = 124

// ExitCodeError carries a process exit status out of a command. Err is nil
// when the status is the executed command's own and needs no message.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for an error from Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// exitStatus maps a dispatch outcome onto shelly's own exit status.
func exitStatus(resp *dispatch.Response, err error) error {
	if err != nil {
		if errors.Is(err, shell.ErrTimedOut) {
			return &ExitCodeError{Code: ExitTimedOut, Err: err}
		}
		return friendlyError(err)
	}
	if resp.Rejected() {
		return &ExitCodeError{Code: 1, Err: fmt.Errorf("rejected: %s", resp.Rejection)}
	}
	if resp.Result != nil && resp.Result.ExitCode != 0 {
		return &ExitCodeError{Code: resp.Result.ExitCode}
	}
	return nil
}

// friendlyError adds a hint to errors a user can act on.
func friendlyError(err error) error {
	var startErr *shell.StartError
	switch {
	case errors.Is(err, shell.ErrUnsupportedShell):
		return fmt.Errorf("%w; set shell.path in the config to bash, zsh or sh", err)
	case errors.As(err, &startErr):
		return fmt.Errorf("%w; check shell.path and that the shell starts without a terminal", err)
	case errors.Is(err, shell.ErrCrashed):
		return fmt.Errorf("%w; the shell exited, so state such as the working directory was lost", err)
	}
	return err
}
