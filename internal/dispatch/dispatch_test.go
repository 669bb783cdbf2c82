package dispatch

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdg/shelly/internal/approval"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/gate"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/safety"
	"github.com/xdg/shelly/internal/shell"
)

func TestMain(m *testing.M) {
	clog.Discard()
	m.Run()
}

// fakeSession answers every command with a canned result. Optional hold
// blocks Execute until closed.
type fakeSession struct {
	mu       sync.Mutex
	commands []shell.Command
	result   shell.Result
	err      error
	hold     chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	restarts int
}

func (f *fakeSession) Execute(ctx context.Context, c shell.Command) (*shell.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.commands = append(f.commands, c)
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	res := f.result
	return &res, f.err
}

func (f *fakeSession) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeSession) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, c.Text)
	}
	return out
}

func newDispatcher(sess *fakeSession, d request.Decision) *Dispatcher {
	approver := gate.ApproverFunc(func(context.Context, approval.PendingRequest) (request.Decision, error) {
		return d, nil
	})
	g := gate.New(sess, gate.Options{Approver: approver})
	return New(sess, g, Options{})
}

func TestRunCommand_AutoGreenlisted(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Stdout: "a\nb\n", Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Reject("should not be asked"))

	resp, err := d.RunCommand(context.Background(), "ls -la")
	require.NoError(t, err)
	assert.False(t, resp.Rejected())
	assert.Equal(t, gate.Completed, resp.State)
	assert.Equal(t, request.Auto, resp.Request.Classification)
	assert.Equal(t, []string{"ls -la"}, sess.texts())
	assert.Equal(t, "stdout:\na\nb\n[exit 0]", resp.ForAssistant())
}

func TestRunCommand_RejectedReasonPassesThrough(t *testing.T) {
	sess := &fakeSession{}
	d := newDispatcher(sess, request.Reject("too destructive"))

	resp, err := d.RunCommand(context.Background(), "rm -rf /tmp/x")
	require.NoError(t, err)
	assert.True(t, resp.Rejected())
	assert.Equal(t, "too destructive", resp.Rejection)
	assert.Nil(t, resp.Result)
	assert.Empty(t, sess.texts(), "rejected command reached the session")
	assert.Contains(t, resp.ForAssistant(), "too destructive")
}

func TestShellScript_AlwaysNeedsApproval(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	resp, err := d.ShellScript(context.Background(), "ls\npwd")
	require.NoError(t, err)
	assert.Equal(t, request.NeedsApproval, resp.Request.Classification)
	assert.Equal(t, request.KindScript, resp.Request.Kind)
	assert.Equal(t, gate.Completed, resp.State)
}

func TestRunCommand_EngineErrorReturned(t *testing.T) {
	sess := &fakeSession{
		result: shell.Result{Stdout: "partial\n", ExitCode: shell.ExitUnknown, Status: shell.StatusTimedOut},
		err:    shell.ErrTimedOut,
	}
	d := newDispatcher(sess, request.Approve())

	resp, err := d.RunCommand(context.Background(), "sleep 100")
	require.ErrorIs(t, err, shell.ErrTimedOut)
	require.NotNil(t, resp)
	assert.Equal(t, gate.Failed, resp.State)
	text := resp.ForAssistant()
	assert.Contains(t, text, "partial")
	assert.Contains(t, text, "[timed-out]")
	assert.Contains(t, text, "error: command timed out")
}

func TestRunCommand_EmptyInput(t *testing.T) {
	d := newDispatcher(&fakeSession{}, request.Approve())
	_, err := d.RunCommand(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestDispatch_Routes(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	_, err := d.Dispatch(context.Background(), ToolCall{Name: ToolRunCommand, Input: "pwd"})
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), ToolCall{Name: ToolShellScript, Input: "echo hi"})
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), ToolCall{Name: ToolMan, Input: "ls"})
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), ToolCall{Name: "rm", Input: "x"})
	require.ErrorIs(t, err, ErrUnknownTool)

	texts := sess.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "MANPAGER=cat MANWIDTH=100 man ls", texts[2])
}

func TestTools(t *testing.T) {
	d := newDispatcher(&fakeSession{}, request.Approve())
	var names []string
	for _, spec := range d.Tools() {
		names = append(names, spec.Name)
		assert.NotEmpty(t, spec.Description)
		assert.NotEmpty(t, spec.Param)
	}
	assert.Equal(t, []string{ToolRunCommand, ToolShellScript, ToolMan}, names)
}

func TestMan_TopicValidation(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Stdout: "NAME\n", Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Reject("man is never gated"))

	for _, bad := range []string{"ls; rm -rf /", "$(id)", "a b", "ls(1", "../etc", "-k", "-Pfoo", "--help", ".hidden", "_x(1)"} {
		_, err := d.Man(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidTopic, bad)
	}
	assert.Empty(t, sess.texts())

	_, err := d.Man(context.Background(), "printf(3)")
	require.NoError(t, err)
	_, err = d.Man(context.Background(), "git-commit")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"MANPAGER=cat MANWIDTH=100 man 3 printf",
		"MANPAGER=cat MANWIDTH=100 man git-commit",
	}, sess.texts())
}

func TestMan_StripsOverstrikes(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Stdout: "N\bNA\bAM\bME\bE\n_\bl_\bs\n", Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	resp, err := d.Man(context.Background(), "ls")
	require.NoError(t, err)
	assert.Equal(t, "NAME\nls\n", resp.Text)
	assert.Equal(t, "NAME\nls\n", resp.ForAssistant())
	assert.Empty(t, sess.commands[0].ID, "man lookups must not emit session events")
}

func TestMan_MissingPage(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Stderr: "No manual entry for nosuch\n", ExitCode: 16, Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	resp, err := d.Man(context.Background(), "nosuch")
	require.ErrorIs(t, err, ErrNoManPage)
	assert.Contains(t, err.Error(), "No manual entry for nosuch")
	assert.Contains(t, resp.ForAssistant(), "No manual entry")
}

func TestDispatcher_Serializes(t *testing.T) {
	sess := &fakeSession{hold: make(chan struct{}), result: shell.Result{Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.RunCommand(context.Background(), "ls")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(sess.hold)
	wg.Wait()

	assert.Equal(t, int32(1), sess.maxSeen.Load())
	assert.Len(t, sess.texts(), 4)
}

func TestDispatcher_AcquireRespectsContext(t *testing.T) {
	sess := &fakeSession{hold: make(chan struct{}), result: shell.Result{Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Approve())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.RunCommand(context.Background(), "ls")
	}()
	require.Eventually(t, func() bool { return len(sess.texts()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.RunCommand(ctx, "pwd")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(sess.hold)
	<-done
}

func TestDispatcher_SetClassifier(t *testing.T) {
	sess := &fakeSession{result: shell.Result{Status: shell.StatusCompleted}}
	d := newDispatcher(sess, request.Reject("no"))

	resp, err := d.RunCommand(context.Background(), "make")
	require.NoError(t, err)
	assert.True(t, resp.Rejected())

	d.SetClassifier(safety.New([]string{"make"}, safety.DefaultOperators))
	resp, err = d.RunCommand(context.Background(), "make")
	require.NoError(t, err)
	assert.Equal(t, gate.Completed, resp.State)
}

func TestDispatcher_Restart(t *testing.T) {
	sess := &fakeSession{}
	d := newDispatcher(sess, request.Approve())
	require.NoError(t, d.Restart(context.Background()))
	assert.Equal(t, 1, sess.restarts)
}

func TestStripOverstrike(t *testing.T) {
	tests := map[string]string{
		"plain":           "plain",
		"b\bbo\bol\bld\bd": "bold",
		"_\bu_\bn":        "un",
		"\bx":             "x",
		"é\bé":            "é",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripOverstrike(in), "%q", in)
	}
}

// The remaining tests drive a real bash session.

func startEngine(t *testing.T, approve request.Decision) *Dispatcher {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell tests")
	}
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	sess, err := shell.Start(context.Background(), shell.Options{Shell: "bash"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	approver := gate.ApproverFunc(func(context.Context, approval.PendingRequest) (request.Decision, error) {
		return approve, nil
	})
	return New(sess, gate.New(sess, gate.Options{Approver: approver, CommandTimeout: 10 * time.Second}), Options{})
}

func TestEngine_EchoHello(t *testing.T) {
	d := startEngine(t, request.Reject("echo is greenlisted"))

	resp, err := d.RunCommand(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", resp.Result.Stdout)
	assert.Empty(t, resp.Result.Stderr)
	assert.Equal(t, 0, resp.Result.ExitCode)
	assert.False(t, resp.Result.Truncated)
}

func TestEngine_RejectionLeavesShellUntouched(t *testing.T) {
	dir := t.TempDir()
	d := startEngine(t, request.Reject("too destructive"))

	resp, err := d.RunCommand(context.Background(), "touch "+dir+"/marker; rm -rf "+dir+"/x")
	require.NoError(t, err)
	assert.True(t, resp.Rejected())
	assert.Equal(t, "too destructive", resp.Rejection)

	ls, err := d.RunCommand(context.Background(), "ls "+dir)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(ls.Result.Stdout), "rejected command ran")
}

func TestEngine_ScriptExitCode(t *testing.T) {
	d := startEngine(t, request.Approve())

	resp, err := d.ShellScript(context.Background(), "echo start\nexit 3")
	require.NoError(t, err)
	assert.Equal(t, gate.Failed, resp.State)
	assert.Equal(t, 3, resp.Result.ExitCode)

	after, err := d.RunCommand(context.Background(), "echo alive")
	require.NoError(t, err)
	assert.Equal(t, "alive\n", after.Result.Stdout)
}

func TestEngine_CrashThenRestart(t *testing.T) {
	d := startEngine(t, request.Approve())

	_, err := d.RunCommand(context.Background(), "exit 9")
	require.ErrorIs(t, err, shell.ErrCrashed)

	_, err = d.RunCommand(context.Background(), "echo hi")
	require.True(t, errors.Is(err, shell.ErrCrashed), "session must stay broken until restarted")

	require.NoError(t, d.Restart(context.Background()))
	resp, err := d.RunCommand(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", resp.Result.Stdout)
}
