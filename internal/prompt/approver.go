package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xdg/shelly/internal/approval"
	"github.com/xdg/shelly/internal/request"
)

// DefaultRejectReason is used when the user declines without saying why.
const DefaultRejectReason = "declined by user"

// maxAttempts bounds re-prompting after answers that are neither yes nor no.
const maxAttempts = 3

// TerminalApprover asks the user about each pending request.
type TerminalApprover struct {
	YesNo YesNoPrompter
	Line  LinePrompter
	Out   io.Writer
}

// NewTerminalApprover creates an approver that shows requests on out and
// reads answers through the given prompters.
func NewTerminalApprover(yn YesNoPrompter, line LinePrompter, out io.Writer) *TerminalApprover {
	return &TerminalApprover{YesNo: yn, Line: line, Out: out}
}

// Approve shows the request and asks "Execute? [Y/n]". Pressing Enter
// approves. On "no" the user is asked for a reason, which is passed back
// verbatim. When ctx ends, Approve returns ctx.Err() and reads no further
// input.
func (a *TerminalApprover) Approve(ctx context.Context, p approval.PendingRequest) (request.Decision, error) {
	_, _ = fmt.Fprintln(a.Out, formatRequest(p))

	var (
		ok  bool
		err error
	)
	for range maxAttempts {
		ok, err = a.YesNo.PromptYesNo(ctx, "Execute? [Y/n]: ", true)
		if !errors.Is(err, ErrInvalidInput) {
			break
		}
		_, _ = fmt.Fprintln(a.Out, "Please answer y or n.")
	}
	if err != nil {
		return request.Decision{}, err
	}
	if ok {
		return request.Approve(), nil
	}

	reason, err := a.Line.PromptLine(ctx, "Reason (optional): ", DefaultRejectReason)
	if errors.Is(err, ErrNoInput) {
		return request.Reject(DefaultRejectReason), nil
	}
	if err != nil {
		return request.Decision{}, err
	}
	return request.Reject(reason), nil
}

// formatRequest renders a pending request for the approval prompt.
func formatRequest(p approval.PendingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval needed (%s): %s\n", p.Kind, p.Reason)
	for _, line := range strings.Split(strings.TrimRight(p.Command, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DenyApprover rejects every request. It stands in for a human when no
// terminal is attached.
type DenyApprover struct {
	Reason string
}

// Approve implements gate.Approver.
func (d DenyApprover) Approve(context.Context, approval.PendingRequest) (request.Decision, error) {
	reason := d.Reason
	if reason == "" {
		reason = "no terminal available for approval"
	}
	return request.Reject(reason), nil
}
