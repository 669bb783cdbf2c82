// Package request defines the command requests that flow from the assistant
// loop through the confirmation gate into the shell session, and the human
// decisions made about them.
package request

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes a single command line from a multi-line script.
type Kind int

const (
	// KindCommand is a single command executed in the session's own shell,
	// so directory and environment changes persist.
	KindCommand Kind = iota
	// KindScript is a multi-line script executed in a subshell.
	KindScript
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// Classification is the safety verdict attached to a request.
// The zero value requires approval.
type Classification int

const (
	// NeedsApproval requires an explicit human decision before execution.
	NeedsApproval Classification = iota
	// Auto may run without a human step.
	Auto
)

// String returns the name used in logs and CLI output.
func (c Classification) String() string {
	switch c {
	case Auto:
		return "auto"
	case NeedsApproval:
		return "needs-approval"
	default:
		return "unknown"
	}
}

// CommandRequest is one unit of user intent. Its fields must not be modified
// after creation; it is consumed exactly once.
type CommandRequest struct {
	ID             string
	Text           string
	Kind           Kind
	Classification Classification
	// Reason explains the classification (matched greenlist entry or the
	// operator that forced approval).
	Reason  string
	Created time.Time

	claimed atomic.Bool
}

// New creates a request with a fresh UUID.
func New(text string, kind Kind, class Classification, reason string) *CommandRequest {
	return &CommandRequest{
		ID:             uuid.NewString(),
		Text:           text,
		Kind:           kind,
		Classification: class,
		Reason:         reason,
		Created:        time.Now(),
	}
}

// Claim marks the request as consumed. It returns false if the request was
// already claimed.
func (r *CommandRequest) Claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether the request has been consumed.
func (r *CommandRequest) Claimed() bool {
	return r.claimed.Load()
}

// Decision is the human operator's answer to a pending request.
type Decision struct {
	Approved bool
	// Reason is free text explaining a rejection. It is passed back to the
	// assistant unchanged.
	Reason string
}

// Approve returns an approving decision.
func Approve() Decision {
	return Decision{Approved: true}
}

// Reject returns a rejecting decision with the given reason.
func Reject(reason string) Decision {
	return Decision{Reason: reason}
}
