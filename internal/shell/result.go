package shell

import (
	"strconv"
	"time"
)

// Status describes how a command ended.
type Status string

const (
	// StatusCompleted means the sentinel was observed and ExitCode is valid.
	StatusCompleted Status = "completed"
	// StatusTimedOut means the command exceeded its timeout.
	StatusTimedOut Status = "timed-out"
	// StatusCrashed means the shell died before the sentinel was observed.
	StatusCrashed Status = "crashed"
	// StatusCanceled means the caller's context ended first.
	StatusCanceled Status = "canceled"
)

// ExitUnknown is the exit code of a command whose sentinel was never seen.
const ExitUnknown = -1

// Result is the outcome of one Execute call.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is ExitUnknown unless Status is StatusCompleted.
	ExitCode  int
	Status    Status
	Truncated bool
	Duration  time.Duration
	// Cwd is the shell's working directory after the command.
	Cwd string
}

// ExitKnown reports whether ExitCode came from the shell.
func (r *Result) ExitKnown() bool {
	return r.Status == StatusCompleted
}

// Success reports whether the command completed with status 0.
func (r *Result) Success() bool {
	return r.Status == StatusCompleted && r.ExitCode == 0
}

// Summary returns "exit N" for completed commands, otherwise the status.
func (r *Result) Summary() string {
	if r.Status == StatusCompleted {
		return "exit " + strconv.Itoa(r.ExitCode)
	}
	return string(r.Status)
}
