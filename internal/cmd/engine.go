package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	xterm "golang.org/x/term"

	"github.com/xdg/shelly/internal/approval"
	"github.com/xdg/shelly/internal/audit"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/config"
	"github.com/xdg/shelly/internal/dispatch"
	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/gate"
	"github.com/xdg/shelly/internal/prompt"
	"github.com/xdg/shelly/internal/pump"
	"github.com/xdg/shelly/internal/render"
	"github.com/xdg/shelly/internal/safety"
	"github.com/xdg/shelly/internal/shell"
	"github.com/xdg/shelly/internal/term"
)

// isInteractive reports whether r is a terminal a human can answer on.
// Tests replace it.
var isInteractive = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && xterm.IsTerminal(int(f.Fd()))
}

// configPath returns the config file in use.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig, false)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := clog.Configure(cfg.Log.FilePath(), cfg.Log.Level, flagDebug); err != nil {
		term.Warn("file logging disabled: %v", err)
	}
	clog.SetQuiet(flagSilent)
	return cfg, nil
}

func classifierFor(cfg *config.Config) *safety.Classifier {
	return safety.New(cfg.Safety.Greenlist, cfg.Safety.Operators)
}

func limitsFor(cfg *config.Config) pump.Limits {
	l := pump.Limits{MaxLines: cfg.Output.MaxLines, MaxChars: cfg.Output.MaxChars}
	if l.MaxLines <= 0 {
		l.MaxLines = pump.DefaultLimits.MaxLines
	}
	if l.MaxChars <= 0 {
		l.MaxChars = pump.DefaultLimits.MaxChars
	}
	return l
}

// newApprover asks on the terminal when raw is one and declines otherwise.
// in must read raw and be its only reader.
func newApprover(in *prompt.Lines, raw io.Reader) gate.Approver {
	if !isInteractive(raw) {
		return prompt.DenyApprover{Reason: "no terminal available for approval"}
	}
	out := term.Stderr()
	return prompt.NewTerminalApprover(prompt.NewStdinYesNoPrompter(in, out), prompt.NewStdinLinePrompter(in, out), out)
}

type engineOptions struct {
	Approver gate.Approver
	// Render receives live command output, styled for the process's
	// stdout. Nil disables rendering.
	Render io.Writer
	Dir    string
}

// engine is one wired-up shell: session, gate and dispatcher sharing an
// event hub and an audit log.
type engine struct {
	cfg     *config.Config
	hub     *events.Hub
	session *shell.Session
	gate    *gate.Gate
	disp    *dispatch.Dispatcher

	auditFile io.Closer
	view      *render.Attachment
}

func newEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	e := &engine{cfg: cfg, hub: events.NewHub()}

	var auditLog *audit.Logger
	if f, err := clog.OpenLogFile(cfg.Log.AuditPath()); err != nil {
		term.Warn("audit log disabled: %v", err)
	} else {
		auditLog = audit.NewLogger(f)
		e.auditFile = f
	}

	sess, err := shell.Start(ctx, shell.Options{
		Shell:        cfg.Shell.Path,
		Dir:          opts.Dir,
		StartTimeout: cfg.Shell.StartTimeoutDuration(),
		Limits:       limitsFor(cfg),
		Events:       e.hub,
	})
	if err != nil {
		e.closeAudit()
		return nil, friendlyError(err)
	}
	e.session = sess

	queue := approval.NewQueueWithTimeout(cfg.Approval.TimeoutDuration())
	queue.SetEventHub(e.hub)
	e.gate = gate.New(sess, gate.Options{
		Queue:          queue,
		Approver:       opts.Approver,
		Audit:          auditLog,
		CommandTimeout: cfg.Shell.CommandTimeoutDuration(),
	})
	e.disp = dispatch.New(sess, e.gate, dispatch.Options{
		Classifier: classifierFor(cfg),
		ManTimeout: cfg.Shell.ManTimeoutDuration(),
		Audit:      auditLog,
	})

	if opts.Render != nil {
		e.view = render.Attach(e.hub, render.NewWithRenderer(opts.Render, lipgloss.NewRenderer(os.Stdout)))
	}
	clog.Debug("engine ready: shell pid %d in %s", sess.PID(), sess.Cwd())
	return e, nil
}

// watchConfig swaps the classifier whenever the config file changes. It
// blocks until ctx ends.
func (e *engine) watchConfig(ctx context.Context, path string) {
	err := config.Watch(ctx, path, config.DefaultDebounce,
		func(cfg *config.Config) {
			e.disp.SetClassifier(classifierFor(cfg))
			clog.Info("classifier reloaded from %s", path)
		},
		func(err error) {
			term.Warn("config not reloaded: %v", err)
		})
	if err != nil {
		clog.Debug("config watch disabled: %v", err)
	}
}

// flushWait bounds how long the prompt waits for a stalled terminal.
const flushWait = 10 * time.Second

// flush waits for rendered output to catch up with the session.
func (e *engine) flush() {
	if e.view != nil {
		e.view.Flush(flushWait)
	}
}

// Close stops the shell, flushes rendering and closes the audit log.
func (e *engine) Close() error {
	err := e.session.Close()
	if e.view != nil {
		e.view.Close()
	}
	e.hub.Close()
	e.closeAudit()
	return err
}

func (e *engine) closeAudit() {
	if e.auditFile != nil {
		_ = e.auditFile.Close()
		e.auditFile = nil
	}
}
