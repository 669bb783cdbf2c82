package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xdg/shelly/internal/approval"
	"github.com/xdg/shelly/internal/audit"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/shell"
)

func TestMain(m *testing.M) {
	clog.Discard()
	m.Run()
}

// fakeExecutor records commands and returns canned results.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []shell.Command
	exit  int
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, c shell.Command) (*shell.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return &shell.Result{ExitCode: shell.ExitUnknown, Status: shell.StatusTimedOut}, f.err
	}
	return &shell.Result{Stdout: "ran " + c.Text + "\n", ExitCode: f.exit, Status: shell.StatusCompleted}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func decide(d request.Decision) Approver {
	return ApproverFunc(func(context.Context, approval.PendingRequest) (request.Decision, error) {
		return d, nil
	})
}

func needsApproval(text string) *request.CommandRequest {
	return request.New(text, request.KindCommand, request.NeedsApproval, "not in the greenlist")
}

func TestGate_AutoRunsWithoutApproval(t *testing.T) {
	exec := &fakeExecutor{}
	asked := false
	g := New(exec, Options{Approver: ApproverFunc(func(context.Context, approval.PendingRequest) (request.Decision, error) {
		asked = true
		return request.Approve(), nil
	})})

	r := request.New("ls", request.KindCommand, request.Auto, "greenlisted: ls")
	out, err := g.Submit(context.Background(), r)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	want := []State{Proposed, Approved, Executing, Completed}
	if !reflect.DeepEqual(out.Trace, want) {
		t.Errorf("Trace = %v, want %v", out.Trace, want)
	}
	if asked {
		t.Error("approver consulted for an auto request")
	}
	if exec.count() != 1 || exec.calls[0].ID != r.ID {
		t.Errorf("executor calls = %+v", exec.calls)
	}
}

func TestGate_ApprovedRequestRuns(t *testing.T) {
	exec := &fakeExecutor{}
	g := New(exec, Options{Approver: decide(request.Approve()), CommandTimeout: time.Minute})

	out, err := g.Submit(context.Background(), needsApproval("make"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	want := []State{Proposed, AwaitingApproval, Approved, Executing, Completed}
	if !reflect.DeepEqual(out.Trace, want) {
		t.Errorf("Trace = %v, want %v", out.Trace, want)
	}
	if out.Result == nil || out.Result.Stdout != "ran make\n" {
		t.Errorf("Result = %+v", out.Result)
	}
	if exec.calls[0].Timeout != time.Minute {
		t.Errorf("Timeout = %v, want 1m", exec.calls[0].Timeout)
	}
	if len(g.Pending()) != 0 {
		t.Error("approved request left in the queue")
	}
}

func TestGate_RejectionNeverExecutes(t *testing.T) {
	exec := &fakeExecutor{}
	g := New(exec, Options{Approver: decide(request.Reject("use git clean instead"))})

	out, err := g.Submit(context.Background(), needsApproval("rm -rf build"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !out.Rejected() || out.State != Rejected {
		t.Errorf("State = %v, want rejected", out.State)
	}
	if out.Rejection != "use git clean instead" {
		t.Errorf("Rejection = %q, want verbatim reason", out.Rejection)
	}
	if out.Result != nil {
		t.Error("rejected request has a result")
	}
	if exec.count() != 0 {
		t.Errorf("executor called %d times for a rejected request", exec.count())
	}
}

func TestGate_NonZeroExitFails(t *testing.T) {
	g := New(&fakeExecutor{exit: 2}, Options{Approver: decide(request.Approve())})

	out, _ := g.Submit(context.Background(), needsApproval("make test"))
	if out.State != Failed {
		t.Errorf("State = %v, want failed", out.State)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, non-zero exit is not an engine error", out.Err)
	}
	if out.Result.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", out.Result.ExitCode)
	}
}

func TestGate_EngineErrorFails(t *testing.T) {
	var log bytes.Buffer
	exec := &fakeExecutor{err: fmt.Errorf("%w after 2s", shell.ErrTimedOut)}
	g := New(exec, Options{Approver: decide(request.Approve()), Audit: audit.NewLogger(&log)})

	out, _ := g.Submit(context.Background(), needsApproval("sleep 60"))
	if out.State != Failed || !errors.Is(out.Err, shell.ErrTimedOut) {
		t.Errorf("Outcome = %+v, want failed with ErrTimedOut", out)
	}
	if !strings.Contains(log.String(), "SHELL TIMEOUT") {
		t.Errorf("audit log missing TIMEOUT:\n%s", log.String())
	}
}

func TestGate_ConsumedOnce(t *testing.T) {
	exec := &fakeExecutor{}
	g := New(exec, Options{Approver: decide(request.Approve())})
	r := needsApproval("make")

	if _, err := g.Submit(context.Background(), r); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := g.Submit(context.Background(), r); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second Submit() error = %v, want ErrAlreadyConsumed", err)
	}
	if exec.count() != 1 {
		t.Errorf("executor called %d times, want 1", exec.count())
	}
}

func TestGate_ConcurrentSubmitsOfOneRequest(t *testing.T) {
	exec := &fakeExecutor{}
	g := New(exec, Options{Approver: decide(request.Approve())})
	r := needsApproval("make")

	var wg sync.WaitGroup
	var consumed sync.Map
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.Submit(context.Background(), r); err == nil {
				consumed.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	n := 0
	consumed.Range(func(any, any) bool { n++; return true })
	if n != 1 || exec.count() != 1 {
		t.Errorf("successful submits = %d, executions = %d, want 1 and 1", n, exec.count())
	}
}

func TestGate_ResolveFromOutside(t *testing.T) {
	g := New(&fakeExecutor{}, Options{})
	r := needsApproval("make install")

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := g.Submit(context.Background(), r)
		done <- out
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(g.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p := g.Pending()[0]
	if p.ID != r.ID || p.Command != "make install" || p.Reason != "not in the greenlist" {
		t.Errorf("pending = %+v", p)
	}

	if err := g.Resolve(r.ID, request.Approve()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out := <-done; out.State != Completed {
		t.Errorf("State = %v, want completed", out.State)
	}
	if err := g.Resolve(r.ID, request.Approve()); !errors.Is(err, approval.ErrNotPending) {
		t.Errorf("late Resolve() error = %v, want ErrNotPending", err)
	}
}

func TestGate_ApprovalTimeoutRejects(t *testing.T) {
	exec := &fakeExecutor{}
	g := New(exec, Options{Queue: approval.NewQueueWithTimeout(50 * time.Millisecond)})

	out, err := g.Submit(context.Background(), needsApproval("make"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.State != Rejected || out.Rejection != "approval timed out after 50ms" {
		t.Errorf("Outcome = %+v, want timeout rejection", out)
	}
	if exec.count() != 0 {
		t.Error("timed-out approval executed")
	}
}

func TestGate_ContextCanceledWhileAwaiting(t *testing.T) {
	exec := &fakeExecutor{}
	block := ApproverFunc(func(ctx context.Context, _ approval.PendingRequest) (request.Decision, error) {
		<-ctx.Done()
		return request.Decision{}, ctx.Err()
	})
	g := New(exec, Options{Approver: block})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := g.Submit(ctx, needsApproval("make"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.State != Rejected || !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Outcome = %+v, want rejected with deadline error", out)
	}
	if exec.count() != 0 || len(g.Pending()) != 0 {
		t.Error("canceled request executed or left pending")
	}
}

func TestGate_ApproverErrorRejects(t *testing.T) {
	failing := ApproverFunc(func(context.Context, approval.PendingRequest) (request.Decision, error) {
		return request.Decision{}, errors.New("stdin closed")
	})
	g := New(&fakeExecutor{}, Options{Approver: failing})

	out, _ := g.Submit(context.Background(), needsApproval("make"))
	if out.State != Rejected || out.Rejection != "approval failed: stdin closed" {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestGate_AuditTrail(t *testing.T) {
	var log bytes.Buffer
	g := New(&fakeExecutor{}, Options{Approver: decide(request.Approve()), Audit: audit.NewLogger(&log)})
	_, _ = g.Submit(context.Background(), needsApproval("make"))
	_, _ = g.Submit(context.Background(), request.New("ls", request.KindCommand, request.Auto, "greenlisted: ls"))

	got := log.String()
	for _, want := range []string{"SHELL REQUEST", "SHELL APPROVE", "SHELL COMPLETE", "SHELL AUTO_APPROVE"} {
		if !strings.Contains(got, want) {
			t.Errorf("audit log missing %s:\n%s", want, got)
		}
	}
}

func TestCanTransition(t *testing.T) {
	all := []State{Proposed, AwaitingApproval, Approved, Rejected, Executing, Completed, Failed}
	for _, from := range all {
		if CanTransition(from, Executing) != (from == Approved) {
			t.Errorf("CanTransition(%v, executing) = %v", from, CanTransition(from, Executing))
		}
	}
	for _, s := range []State{Rejected, Completed, Failed} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	if CanTransition(AwaitingApproval, Executing) {
		t.Error("awaiting-approval must not skip to executing")
	}
	if State(42).String() != "state(42)" {
		t.Errorf("String() = %q", State(42).String())
	}
}
