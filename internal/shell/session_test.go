package shell

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/request"
)

func TestMain(m *testing.M) {
	clog.Discard()
	goleak.VerifyTestMain(m)
}

func startBash(t *testing.T, opts Options) *Session {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell tests")
	}
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	opts.Shell = "bash"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Start(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(t *testing.T, s *Session, text string) *Result {
	t.Helper()
	res, err := s.Execute(context.Background(), Command{Text: text, Kind: request.KindCommand, Timeout: 10 * time.Second})
	require.NoError(t, err)
	return res
}

func TestSession_Echo(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "echo hello")
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.False(t, res.Truncated)
	assert.True(t, res.Success())
}

func TestSession_NoTrailingNewline(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "printf abc")
	assert.Equal(t, "abc", res.Stdout)
}

func TestSession_ExitCodes(t *testing.T) {
	s := startBash(t, Options{})

	assert.Equal(t, 1, run(t, s, "false").ExitCode)
	assert.Equal(t, 42, run(t, s, "bash -c 'exit 42'").ExitCode)
	assert.Equal(t, 0, run(t, s, "true").ExitCode)
}

func TestSession_StatePersists(t *testing.T) {
	dir := t.TempDir()
	s := startBash(t, Options{})

	res := run(t, s, "cd "+quotePosix(dir))
	assert.Equal(t, dir, res.Cwd)
	assert.Equal(t, dir, s.Cwd())
	assert.Equal(t, dir+"\n", run(t, s, "pwd").Stdout)

	run(t, s, "export SHELLY_TEST_VAR=persisted")
	assert.Equal(t, "persisted\n", run(t, s, `echo "$SHELLY_TEST_VAR"`).Stdout)
}

func TestSession_InitialDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	s := startBash(t, Options{Dir: dir, Env: []string{"SHELLY_INIT=yes"}})

	assert.Equal(t, dir, s.Cwd())
	assert.Equal(t, "yes\n", run(t, s, "echo $SHELLY_INIT").Stdout)
}

func TestSession_Stderr(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "echo out; echo err >&2")
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestSession_StdinIsNotShared(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "cat")
	assert.Empty(t, res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "still here\n", run(t, s, "echo still here").Stdout)
}

func TestSession_UnbalancedQuote(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "echo 'oops")
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Contains(t, res.Stderr, "unexpected EOF")
	assert.Equal(t, "ok\n", run(t, s, "echo ok").Stdout)
}

func TestSession_ScriptRunsInSubshell(t *testing.T) {
	s := startBash(t, Options{})

	res, err := s.Execute(context.Background(), Command{
		Text: "echo a\necho b >&2\ncd /\nexit 3",
		Kind: request.KindScript,
	})
	require.NoError(t, err)
	assert.Equal(t, "a\n", res.Stdout)
	assert.Equal(t, "b\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)

	// exit and cd stayed inside the script.
	before := s.Cwd()
	assert.Equal(t, before+"\n", run(t, s, "pwd").Stdout)
}

func TestSession_Truncation(t *testing.T) {
	s := startBash(t, Options{})

	res := run(t, s, "i=1; while [ $i -le 2000 ]; do echo $i; i=$((i+1)); done")
	assert.True(t, res.Truncated)
	assert.Equal(t, 1000, strings.Count(res.Stdout, "\n"))
	assert.True(t, strings.HasSuffix(res.Stdout, "\n1000\n"))
	assert.Equal(t, 0, res.ExitCode)
}

func TestSession_CustomLimits(t *testing.T) {
	s := startBash(t, Options{})
	s.opts.Limits.MaxChars = 4

	res := run(t, s, "echo abcdefgh")
	assert.Equal(t, "abcd", res.Stdout)
	assert.True(t, res.Truncated)
}

func TestSession_BackgroundJobDoesNotBlock(t *testing.T) {
	s := startBash(t, Options{})

	start := time.Now()
	run(t, s, "sleep 30 &")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "next\n", run(t, s, "echo next").Stdout)
}

func TestSession_TimeoutBreaksSession(t *testing.T) {
	dir := t.TempDir()
	s := startBash(t, Options{})
	run(t, s, "cd "+quotePosix(dir))

	res, err := s.Execute(context.Background(), Command{
		Text:    "echo before; sleep 60",
		Kind:    request.KindCommand,
		Timeout: 300 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, ExitUnknown, res.ExitCode)
	assert.Equal(t, "before\n", res.Stdout)
	assert.True(t, NeedsRestart(err))

	_, err = s.Execute(context.Background(), Command{Text: "echo again"})
	require.ErrorIs(t, err, ErrTimedOut)
	require.ErrorIs(t, s.Err(), ErrTimedOut)

	require.NoError(t, s.Restart(context.Background()))
	require.NoError(t, s.Err())
	assert.Equal(t, dir, s.Cwd())
	assert.Equal(t, "again\n", run(t, s, "echo again").Stdout)
}

func TestSession_ExitCrashesSession(t *testing.T) {
	s := startBash(t, Options{})

	res, err := s.Execute(context.Background(), Command{Text: "echo bye; exit 7"})
	require.ErrorIs(t, err, ErrCrashed)
	assert.Equal(t, StatusCrashed, res.Status)
	assert.Equal(t, ExitUnknown, res.ExitCode)
	assert.Equal(t, "bye\n", res.Stdout)
	assert.Contains(t, err.Error(), "exit status 7")

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, "back\n", run(t, s, "echo back").Stdout)
}

func TestSession_Cancel(t *testing.T) {
	s := startBash(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := s.Execute(ctx, Command{Text: "sleep 60"})
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCanceled, res.Status)
}

func TestSession_Busy(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	sub := hub.Subscribe()

	s := startBash(t, Options{Events: hub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, Command{ID: "long", Text: "sleep 60"})
		errc <- err
	}()

	for e := range sub {
		if e.Type == events.TypeStarted && e.RequestID == "long" {
			break
		}
	}
	_, err := s.Execute(context.Background(), Command{Text: "echo hi"})
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, s.Restart(context.Background()), ErrBusy)

	cancel()
	require.ErrorIs(t, <-errc, ErrCanceled)
}

func TestSession_Events(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	sub := hub.Subscribe()

	s := startBash(t, Options{Events: hub})
	run(t, s, "true") // commands without an ID emit nothing

	_, err := s.Execute(context.Background(), Command{ID: "req-1", Text: "echo one; echo two >&2"})
	require.NoError(t, err)

	var stdout, stderr string
	var got []events.Type
	for e := range sub {
		require.Equal(t, "req-1", e.RequestID)
		got = append(got, e.Type)
		if e.Type == events.TypeOutput {
			if e.Stream == events.Stdout {
				stdout += string(e.Data)
			} else {
				stderr += string(e.Data)
			}
		}
		if e.Type == events.TypeFinished {
			assert.Equal(t, "completed", e.Status)
			assert.Equal(t, 0, e.ExitCode)
			break
		}
	}
	assert.Equal(t, events.TypeStarted, got[0])
	assert.Equal(t, "one\n", stdout)
	assert.Equal(t, "two\n", stderr)
}

func TestSession_Close(t *testing.T) {
	s := startBash(t, Options{})
	pid := s.PID()
	assert.NotZero(t, pid)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, s.PID())

	_, err := s.Execute(context.Background(), Command{Text: "echo hi"})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Restart(context.Background()), ErrClosed)
}

func TestStart_MissingShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell tests")
	}
	_, err := Start(context.Background(), Options{Shell: "/nonexistent/shelly-shell"})
	require.ErrorIs(t, err, ErrSessionStart)

	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, "/nonexistent/shelly-shell", startErr.Shell)
}

func TestStart_MissingDir(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil || runtime.GOOS == "windows" {
		t.Skip("bash not available")
	}
	_, err := Start(context.Background(), Options{Shell: "bash", Dir: "/nonexistent/shelly-dir"})
	require.ErrorIs(t, err, ErrSessionStart)
}
