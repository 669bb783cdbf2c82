// Package shell runs commands in one long-lived shell process. The working
// directory, exported variables and functions persist between commands.
// Completion is detected with a per-call sentinel trailer (see package
// sentinel), so no prompt parsing or idle timers are involved.
//
// A session runs one command at a time. After a crash, timeout or
// cancellation the shell is killed and every later Execute returns the
// original error until Restart succeeds.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/pump"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/sentinel"
)

const (
	// DefaultStartTimeout bounds the startup probe.
	DefaultStartTimeout = 10 * time.Second
	// drainGrace bounds the wait for buffered output after the shell dies.
	drainGrace = 500 * time.Millisecond
	// shutdownGrace bounds the wait for the shell to exit on end of input.
	shutdownGrace = 2 * time.Second
)

// Options configures a session.
type Options struct {
	// Shell is the shell to run. Empty selects the dialect's default.
	Shell string
	// Dialect defaults to DefaultDialect().
	Dialect Dialect
	// Dir is the initial working directory. Empty inherits ours.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// StartTimeout bounds the startup probe. Zero uses DefaultStartTimeout.
	StartTimeout time.Duration
	// Limits bounds captured output per stream. Zero uses pump.DefaultLimits.
	Limits pump.Limits
	// Events receives started, output and finished events. May be nil.
	Events *events.Hub
}

// Command is one unit of work for Execute.
type Command struct {
	// ID tags emitted events. Commands with an empty ID emit nothing.
	ID   string
	Text string
	Kind request.Kind
	// Timeout of zero means none.
	Timeout time.Duration
}

// Session owns one shell process.
type Session struct {
	opts    Options
	dialect Dialect
	tokens  sentinel.Generator
	log     *clog.Logger

	// busy is held for the duration of Execute and Restart.
	busy sync.Mutex

	mu     sync.Mutex
	proc   *process
	cwd    string
	broken error
	closed bool
}

// process is one spawned shell with its pipes and pumps.
type process struct {
	cmd    *exec.Cmd
	stdin  *os.File
	outR   *os.File
	errR   *os.File
	stdout *pump.Pump
	stderr *pump.Pump
	pumps  errgroup.Group

	exited  chan struct{}
	waitErr error
}

// Start spawns the shell and waits for it to answer a no-op probe.
func Start(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		opts:    opts,
		dialect: opts.Dialect,
		log:     clog.Named("shell"),
	}
	if s.dialect == nil {
		s.dialect = DefaultDialect()
	}
	if err := s.spawn(ctx, opts.Dir); err != nil {
		return nil, err
	}
	return s, nil
}

// Execute runs c and waits for it to finish. A non-zero exit status is not an
// error. On crash, timeout or cancellation the partial output is returned
// together with the error.
func (s *Session) Execute(ctx context.Context, c Command) (*Result, error) {
	if !s.busy.TryLock() {
		return nil, ErrBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	p, broken, closed := s.proc, s.broken, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return nil, ErrClosed
	case broken != nil:
		return nil, broken
	case p == nil:
		return nil, ErrCrashed
	}
	return s.run(ctx, p, c)
}

// Restart kills the current shell, if any, and spawns a new one in the last
// known working directory. If that directory is gone the initial one is used.
func (s *Session) Restart(ctx context.Context) error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old, dir := s.proc, s.cwd
	s.proc = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.shutdown(s.dialect, 0); err != nil {
			s.log.Debug("old shell shutdown: %v", err)
		}
	}

	err := s.spawn(ctx, dir)
	if err != nil && dir != s.opts.Dir {
		s.log.Warn("restart in %s failed, using initial directory: %v", dir, err)
		err = s.spawn(ctx, s.opts.Dir)
	}
	if err != nil {
		s.mu.Lock()
		s.broken = err
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close ends the shell. A healthy shell exits on end of input; anything still
// running after a grace period is killed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.shutdown(s.dialect, shutdownGrace)
}

// Cwd returns the shell's working directory as of the last completed command.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Err returns the error that broke the session, or nil if it is usable.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.broken
}

// PID returns the shell's process id, or 0 when no shell is running.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.proc.cmd.Process == nil {
		return 0
	}
	return s.proc.cmd.Process.Pid
}

func (s *Session) shellName() string {
	if s.opts.Shell != "" {
		return s.opts.Shell
	}
	return s.dialect.Name()
}

// spawn starts a process in dir and installs it once the probe succeeds.
func (s *Session) spawn(ctx context.Context, dir string) error {
	p, err := s.startProcess(dir)
	if err != nil {
		return &StartError{Shell: s.shellName(), Err: err}
	}

	timeout := s.opts.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	res, err := s.run(ctx, p, Command{
		Text:    s.dialect.Probe(),
		Kind:    request.KindCommand,
		Timeout: timeout,
	})
	if err != nil {
		_ = p.shutdown(s.dialect, 0)
		return &StartError{Shell: s.shellName(), Err: err}
	}

	s.mu.Lock()
	s.proc = p
	s.broken = nil
	s.cwd = res.Cwd
	s.mu.Unlock()

	s.log.Info("started %s (pid %d) in %s", p.cmd.Path, p.cmd.Process.Pid, res.Cwd)
	return nil
}

func (s *Session) startProcess(dir string) (*process, error) {
	cmd, err := s.dialect.Command(s.opts.Shell)
	if err != nil {
		return nil, err
	}
	cmd.Dir = dir
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, s.opts.Env...)

	// os.Pipe rather than StdoutPipe: Wait must not close the read ends
	// while the pumps are still draining them.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	// The child holds its own copies.
	closeAll(inR, outW, errW)

	p := &process{
		cmd:    cmd,
		stdin:  inW,
		outR:   outR,
		errR:   errR,
		stdout: pump.New(events.Stdout, outR),
		stderr: pump.New(events.Stderr, errR),
		exited: make(chan struct{}),
	}
	p.pumps.Go(p.stdout.Run)
	p.pumps.Go(p.stderr.Run)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// run writes one command and waits for both sentinels.
func (s *Session) run(ctx context.Context, p *process, c Command) (*Result, error) {
	tok := s.tokens.Next()
	limits := s.opts.Limits
	if limits == (pump.Limits{}) {
		limits = pump.DefaultLimits
	}
	start := time.Now()
	s.emit(c, events.Started(c.ID, c.Text))

	outCap := p.stdout.Begin(tok, sentinel.StdoutMetaLines, limits, s.sink(c.ID, events.Stdout))
	errCap := p.stderr.Begin(tok, 0, limits, s.sink(c.ID, events.Stderr))
	defer p.stdout.Detach(outCap)
	defer p.stderr.Detach(errCap)

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	s.log.Debug("run %s %q (token %s)", c.Kind, c.Text, tok)
	if _, err := io.WriteString(p.stdin, s.dialect.Wrap(c.Text, c.Kind, tok)); err != nil {
		return s.abandon(p, c, start, outCap, errCap, StatusCrashed,
			fmt.Errorf("%w: write command: %w", ErrCrashed, err))
	}

	outDone, errDone := outCap.Done(), errCap.Done()
	for outDone != nil || errDone != nil {
		select {
		case <-outDone:
			outDone = nil
		case <-errDone:
			errDone = nil
		case <-p.exited:
			return s.abandon(p, c, start, outCap, errCap, StatusCrashed, p.crashErr())
		case <-timeout:
			return s.abandon(p, c, start, outCap, errCap, StatusTimedOut,
				fmt.Errorf("%w after %s", ErrTimedOut, c.Timeout))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return s.abandon(p, c, start, outCap, errCap, StatusTimedOut,
					fmt.Errorf("%w: %w", ErrTimedOut, ctx.Err()))
			}
			return s.abandon(p, c, start, outCap, errCap, StatusCanceled,
				fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
		}
	}

	out, errOut := outCap.Snapshot(), errCap.Snapshot()
	if !out.Complete || !errOut.Complete {
		// A stream ended before its sentinel arrived.
		return s.abandon(p, c, start, outCap, errCap, StatusCrashed, p.crashErr())
	}

	res := &Result{
		Stdout:    string(out.Data),
		Stderr:    string(errOut.Data),
		ExitCode:  out.ExitCode,
		Status:    StatusCompleted,
		Truncated: out.Truncated || errOut.Truncated,
		Duration:  time.Since(start),
	}
	if s.dialect.CRLF() {
		res.Stdout = strings.TrimSuffix(res.Stdout, "\r")
		res.Stderr = strings.TrimSuffix(res.Stderr, "\r")
	}
	if len(out.Meta) > 0 {
		res.Cwd = strings.TrimSuffix(out.Meta[0], "\r")
		s.mu.Lock()
		if s.proc == p {
			s.cwd = res.Cwd
		}
		s.mu.Unlock()
	}

	s.log.Debug("%q finished: %s in %s", c.Text, res.Summary(), res.Duration)
	s.emit(c, events.Finished(c.ID, c.Text, string(res.Status), res.ExitCode))
	return res, nil
}

// abandon kills the shell, marks the session broken and returns whatever
// output arrived.
func (s *Session) abandon(p *process, c Command, start time.Time, outCap, errCap *pump.Capture, status Status, cause error) (*Result, error) {
	s.mu.Lock()
	if s.proc == p {
		s.broken = cause
	}
	cwd := s.cwd
	s.mu.Unlock()

	if err := s.dialect.Kill(p.cmd); err != nil {
		s.log.Warn("kill shell: %v", err)
	}
	waitCaptures(drainGrace, outCap, errCap)
	outCap.Abort(cause)
	errCap.Abort(cause)

	out, errOut := outCap.Snapshot(), errCap.Snapshot()
	res := &Result{
		Stdout:    string(out.Data),
		Stderr:    string(errOut.Data),
		ExitCode:  ExitUnknown,
		Status:    status,
		Truncated: out.Truncated || errOut.Truncated,
		Duration:  time.Since(start),
		Cwd:       cwd,
	}

	s.log.Warn("%q %s: %v", c.Text, status, cause)
	s.emit(c, events.Finished(c.ID, c.Text, string(status), ExitUnknown))
	return res, cause
}

func (s *Session) emit(c Command, e events.Event) {
	if c.ID == "" {
		return
	}
	s.opts.Events.Broadcast(e)
}

func (s *Session) sink(id string, stream events.Stream) func([]byte) {
	if id == "" || s.opts.Events == nil {
		return nil
	}
	return func(b []byte) {
		s.opts.Events.Broadcast(events.Output(id, stream, b))
	}
}

// crashErr describes why the shell went away.
func (p *process) crashErr() error {
	select {
	case <-p.exited:
	case <-time.After(drainGrace):
		return fmt.Errorf("%w: output closed", ErrCrashed)
	}
	if p.waitErr != nil {
		return fmt.Errorf("%w: shell %w", ErrCrashed, p.waitErr)
	}
	return fmt.Errorf("%w: shell exited", ErrCrashed)
}

// shutdown ends the process. With a positive grace the shell is first given
// end of input; the process group is always killed so no job outlives it.
func (p *process) shutdown(d Dialect, grace time.Duration) error {
	_ = p.stdin.Close()
	if grace > 0 {
		select {
		case <-p.exited:
		case <-time.After(grace):
		}
	}
	killErr := d.Kill(p.cmd)
	<-p.exited

	// Jobs that escaped the group can keep the pipes open; closing the read
	// ends unblocks the pumps.
	done := make(chan error, 1)
	go func() { done <- p.pumps.Wait() }()
	var pumpErr error
	select {
	case pumpErr = <-done:
	case <-time.After(drainGrace):
		closeAll(p.outR, p.errR)
		pumpErr = <-done
	}
	closeAll(p.outR, p.errR)
	return errors.Join(killErr, pumpErr)
}

func waitCaptures(grace time.Duration, caps ...*pump.Capture) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for _, c := range caps {
		select {
		case <-c.Done():
		case <-timer.C:
			return
		}
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
