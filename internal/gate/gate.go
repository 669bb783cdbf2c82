// Package gate enforces that a command request runs only after it was either
// classified auto or approved by a human. Every request moves through the
// states in state.go, is consumed exactly once, and leaves an audit trail.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xdg/shelly/internal/approval"
	"github.com/xdg/shelly/internal/audit"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/shell"
)

var (
	// ErrAlreadyConsumed is returned when a request is submitted twice.
	ErrAlreadyConsumed = errors.New("request already consumed")
	// ErrIllegalTransition indicates a bug in the gate's state handling.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// Executor runs approved commands. *shell.Session satisfies it.
type Executor interface {
	Execute(ctx context.Context, c shell.Command) (*shell.Result, error)
}

// Approver asks a human about a pending request. Approve blocks until a
// decision is made or ctx ends. The gate calls it in its own goroutine.
type Approver interface {
	Approve(ctx context.Context, p approval.PendingRequest) (request.Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, p approval.PendingRequest) (request.Decision, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, p approval.PendingRequest) (request.Decision, error) {
	return f(ctx, p)
}

// Options configures a Gate.
type Options struct {
	// Queue holds pending approvals. Defaults to a queue without timeout.
	Queue *approval.Queue
	// Approver is asked about every pending request. When nil, decisions
	// arrive only through Resolve.
	Approver Approver
	// Audit receives one line per decision and outcome. May be nil.
	Audit *audit.Logger
	// CommandTimeout is passed to the executor. Zero means none.
	CommandTimeout time.Duration
}

// Gate mediates between proposals and execution.
type Gate struct {
	exec     Executor
	queue    *approval.Queue
	approver Approver
	audit    *audit.Logger
	timeout  time.Duration
	log      *clog.Logger
}

// New creates a gate that runs approved requests on exec.
func New(exec Executor, opts Options) *Gate {
	q := opts.Queue
	if q == nil {
		q = approval.NewQueue()
	}
	return &Gate{
		exec:     exec,
		queue:    q,
		approver: opts.Approver,
		audit:    opts.Audit,
		timeout:  opts.CommandTimeout,
		log:      clog.Named("gate"),
	}
}

// Outcome is the final record of one submitted request.
type Outcome struct {
	Request *request.CommandRequest
	State   State
	// Trace lists every state visited, starting with Proposed.
	Trace []State
	// Result is nil unless the request reached Executing.
	Result *shell.Result
	// Rejection is the human's reason, passed through verbatim.
	Rejection string
	// Err is an engine error (crash, timeout, cancellation) or the reason
	// approval could not complete. A non-zero exit is not an error.
	Err error
}

// Rejected reports whether the request was refused.
func (o *Outcome) Rejected() bool {
	return o.State == Rejected
}

func (o *Outcome) advance(to State) error {
	if !CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.State, to)
	}
	o.State = to
	o.Trace = append(o.Trace, to)
	return nil
}

// Submit takes r through approval and, if allowed, execution. It returns an
// error only for ErrAlreadyConsumed or an internal state error; everything
// else is reported in the Outcome.
func (g *Gate) Submit(ctx context.Context, r *request.CommandRequest) (*Outcome, error) {
	if !r.Claim() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConsumed, r.ID)
	}
	out := &Outcome{Request: r, State: Proposed, Trace: []State{Proposed}}
	g.logAudit(g.audit.LogRequest(r))

	if r.Classification == request.Auto {
		if err := out.advance(Approved); err != nil {
			return out, err
		}
		g.log.Debug("auto-approved %s: %s", r.ID, r.Reason)
		g.logAudit(g.audit.LogAutoApprove(r))
	} else {
		if err := out.advance(AwaitingApproval); err != nil {
			return out, err
		}
		d, err := g.await(ctx, r)
		if err != nil {
			d = request.Reject("approval canceled")
			out.Err = err
		}
		if !d.Approved {
			if err := out.advance(Rejected); err != nil {
				return out, err
			}
			out.Rejection = d.Reason
			g.log.Info("rejected %s: %s", r.ID, d.Reason)
			g.logAudit(g.audit.LogReject(r, d.Reason))
			return out, nil
		}
		if err := out.advance(Approved); err != nil {
			return out, err
		}
		g.logAudit(g.audit.LogApprove(r))
	}

	if err := out.advance(Executing); err != nil {
		return out, err
	}
	res, err := g.exec.Execute(ctx, shell.Command{
		ID:      r.ID,
		Text:    r.Text,
		Kind:    r.Kind,
		Timeout: g.timeout,
	})
	out.Result, out.Err = res, err

	final := Completed
	if err != nil || res.ExitCode != 0 {
		final = Failed
	}
	if err := out.advance(final); err != nil {
		return out, err
	}

	switch {
	case err == nil:
		g.logAudit(g.audit.LogComplete(r, res.ExitCode, res.Duration))
	case errors.Is(err, shell.ErrTimedOut):
		g.logAudit(g.audit.LogEngineError(audit.EventTimeout, r, err))
	case errors.Is(err, shell.ErrCanceled):
		g.logAudit(g.audit.LogEngineError(audit.EventCancel, r, err))
	default:
		g.logAudit(g.audit.LogEngineError(audit.EventCrash, r, err))
	}
	return out, nil
}

// await queues r and blocks until it is decided or ctx ends.
func (g *Gate) await(ctx context.Context, r *request.CommandRequest) (request.Decision, error) {
	ch := make(chan request.Decision, 1)
	pending := approval.PendingRequest{
		ID:      r.ID,
		Command: r.Text,
		Kind:    r.Kind,
		Reason:  r.Reason,
		Created: r.Created,
	}
	queued := pending
	queued.Response = ch
	if err := g.queue.Add(&queued); err != nil {
		return request.Decision{}, err
	}
	defer g.queue.Remove(r.ID)

	if g.approver != nil {
		actx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			d, err := g.approver.Approve(actx, pending)
			if err != nil {
				if actx.Err() != nil {
					return
				}
				d = request.Reject("approval failed: " + err.Error())
			}
			if err := g.queue.Resolve(r.ID, d); err != nil {
				g.log.Debug("late decision for %s: %v", r.ID, err)
			}
		}()
	}

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return request.Decision{}, ctx.Err()
	}
}

// Resolve decides a pending request on behalf of a human.
func (g *Gate) Resolve(id string, d request.Decision) error {
	return g.queue.Resolve(id, d)
}

// Pending lists requests awaiting a decision, oldest first.
func (g *Gate) Pending() []approval.PendingRequest {
	return g.queue.List()
}

func (g *Gate) logAudit(err error) {
	if err != nil {
		g.log.Warn("audit: %v", err)
	}
}
