// Package dispatch exposes the three actions the assistant may take (run a
// command, run a script, read a manual page) and maps them onto the
// confirmation gate and the shell session. Calls are serialized: at most one
// action touches the session at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xdg/shelly/internal/audit"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/gate"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/safety"
	"github.com/xdg/shelly/internal/shell"
)

// Tool names as seen by the assistant.
const (
	ToolRunCommand  = "run_command"
	ToolShellScript = "shell_script"
	ToolMan         = "man"
)

// DefaultManTimeout bounds a manual page lookup.
const DefaultManTimeout = 30 * time.Second

var (
	// ErrUnknownTool is returned by Dispatch for unrecognized tool names.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrEmptyInput is returned for blank commands, scripts and topics.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidTopic is returned for manual topics that are not a plain
	// name with an optional section, such as "ls" or "printf(3)".
	ErrInvalidTopic = errors.New("invalid manual topic")
	// ErrNoManPage is returned when man finds no entry.
	ErrNoManPage = errors.New("no manual entry")
)

// manTopic starts with a letter or digit so a topic is never read as an
// option to man.
var manTopic = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:+-]*(\(([0-9a-z]+)\))?$`)

// Session is the part of *shell.Session the dispatcher needs.
type Session interface {
	gate.Executor
	Restart(ctx context.Context) error
}

// ToolCall is one action requested by the assistant.
type ToolCall struct {
	Name  string
	Input string
}

// ToolSpec describes an action to the assistant.
type ToolSpec struct {
	Name        string
	Description string
	// Param names the single text argument.
	Param string
}

// Options configures a Dispatcher.
type Options struct {
	// Classifier defaults to safety.NewDefault().
	Classifier *safety.Classifier
	// ManTimeout defaults to DefaultManTimeout.
	ManTimeout time.Duration
	// Audit records man lookups, which bypass the gate. May be nil.
	Audit *audit.Logger
}

// Dispatcher serializes tool calls against one session.
type Dispatcher struct {
	sem        *semaphore.Weighted
	session    Session
	gate       *gate.Gate
	classifier atomic.Pointer[safety.Classifier]
	manTimeout time.Duration
	audit      *audit.Logger
	log        *clog.Logger
}

// New creates a dispatcher. g must execute on session.
func New(session Session, g *gate.Gate, opts Options) *Dispatcher {
	d := &Dispatcher{
		sem:        semaphore.NewWeighted(1),
		session:    session,
		gate:       g,
		manTimeout: opts.ManTimeout,
		audit:      opts.Audit,
		log:        clog.Named("dispatch"),
	}
	if d.manTimeout <= 0 {
		d.manTimeout = DefaultManTimeout
	}
	c := opts.Classifier
	if c == nil {
		c = safety.NewDefault()
	}
	d.classifier.Store(c)
	return d
}

// SetClassifier swaps the classifier used for later calls.
func (d *Dispatcher) SetClassifier(c *safety.Classifier) {
	d.classifier.Store(c)
}

// Classifier returns the classifier currently in use.
func (d *Dispatcher) Classifier() *safety.Classifier {
	return d.classifier.Load()
}

// Tools describes the available actions.
func (d *Dispatcher) Tools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolRunCommand,
			Description: "Run one command line in the user's persistent shell. Directory and environment changes persist. Read-only commands from the greenlist run immediately; anything else needs the user's approval.",
			Param:       "command",
		},
		{
			Name:        ToolShellScript,
			Description: "Run a multi-line script in a subshell of the user's shell. Always needs the user's approval.",
			Param:       "script",
		},
		{
			Name:        ToolMan,
			Description: "Read the manual page for a command, e.g. \"tar\" or \"printf(3)\". Runs without approval.",
			Param:       "command",
		},
	}
}

// Dispatch routes call to the matching action.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (*Response, error) {
	switch call.Name {
	case ToolRunCommand:
		return d.RunCommand(ctx, call.Input)
	case ToolShellScript:
		return d.ShellScript(ctx, call.Input)
	case ToolMan:
		return d.Man(ctx, call.Input)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
}

// RunCommand classifies text as a single command and submits it to the gate.
// A rejection is returned in the Response, not as an error. Engine errors
// are returned together with the partial Response.
func (d *Dispatcher) RunCommand(ctx context.Context, text string) (*Response, error) {
	return d.submit(ctx, ToolRunCommand, text, request.KindCommand)
}

// ShellScript submits text as a script. Scripts always need approval.
func (d *Dispatcher) ShellScript(ctx context.Context, text string) (*Response, error) {
	return d.submit(ctx, ToolShellScript, text, request.KindScript)
}

func (d *Dispatcher) submit(ctx context.Context, tool, text string, kind request.Kind) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", tool, ErrEmptyInput)
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	v := d.Classifier().Classify(text, kind)
	r := request.New(text, kind, v.Class, v.Reason)
	d.log.Debug("%s %s: %s (%s)", tool, r.ID, v.Class, v.Reason)

	out, err := d.gate.Submit(ctx, r)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Tool:      tool,
		Input:     text,
		Request:   r,
		State:     out.State,
		Result:    out.Result,
		Rejection: out.Rejection,
		Err:       out.Err,
	}
	return resp, out.Err
}

// Man returns the manual page for topic. It runs through the session without
// approval and emits no session events; callers print Response.Text.
// Formatting overstrikes are removed.
func (d *Dispatcher) Man(ctx context.Context, topic string) (*Response, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%s: %w", ToolMan, ErrEmptyInput)
	}
	m := manTopic.FindStringSubmatch(topic)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	name := strings.TrimSuffix(topic, m[1])
	args := name
	if m[2] != "" {
		args = m[2] + " " + name
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	res, err := d.session.Execute(ctx, shell.Command{
		Text:    "MANPAGER=cat MANWIDTH=100 man " + args,
		Kind:    request.KindCommand,
		Timeout: d.manTimeout,
	})
	resp := &Response{Tool: ToolMan, Input: topic, Result: res, Err: err}
	if err != nil {
		return resp, err
	}
	if aerr := d.audit.LogMan(topic, res.ExitCode, res.Duration); aerr != nil {
		d.log.Warn("audit: %v", aerr)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("man exited with status %d", res.ExitCode)
		}
		resp.Err = fmt.Errorf("%w: %s", ErrNoManPage, msg)
		return resp, resp.Err
	}
	resp.Text = stripOverstrike(res.Stdout)
	return resp, nil
}

// Restart recreates the session after an engine error.
func (d *Dispatcher) Restart(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)
	return d.session.Restart(ctx)
}

// stripOverstrike removes backspace overstrikes ("c\bc" for bold, "_\bc" for
// underline) left by man's formatter.
func stripOverstrike(s string) string {
	if !strings.ContainsRune(s, '\b') {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
