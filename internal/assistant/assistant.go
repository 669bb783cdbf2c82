// Package assistant runs the conversation between the user, a language model
// and the tool dispatcher. The model client itself is supplied by the caller.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/dispatch"
	"github.com/xdg/shelly/internal/shell"
)

// Defaults for Options.
const (
	DefaultWindow   = 4
	DefaultMaxSteps = 8
)

var (
	// ErrNoModel is returned when no model client is configured.
	ErrNoModel = errors.New("no assistant model configured")
	// ErrMaxSteps is returned when a turn ends without a final message.
	ErrMaxSteps = errors.New("assistant step limit reached")
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation.
type Message struct {
	Role    Role
	Content string
	// Call is set on assistant messages that invoked a tool.
	Call *dispatch.ToolCall
}

// Prompt is everything sent to the model for one step.
type Prompt struct {
	System   string
	Messages []Message
	Tools    []dispatch.ToolSpec
}

// Reply is the model's answer: either text, a tool call, or text with a
// tool call.
type Reply struct {
	Text string
	Call *dispatch.ToolCall
}

// Model is a language model client.
type Model interface {
	Respond(ctx context.Context, p Prompt) (Reply, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, p Prompt) (Reply, error)

// Respond implements Model.
func (f ModelFunc) Respond(ctx context.Context, p Prompt) (Reply, error) {
	return f(ctx, p)
}

// Dispatcher executes tool calls. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.ToolCall) (*dispatch.Response, error)
	Tools() []dispatch.ToolSpec
}

// Options configures a Loop.
type Options struct {
	// Window is the number of earlier exchanges sent with each task.
	Window int
	// MaxSteps bounds model calls per task.
	MaxSteps int
	// Context is called before every step so the prompt reflects the
	// current directory.
	Context func() Context
	// OnReply and OnResponse observe the turn as it happens. Either may be nil.
	OnReply    func(Reply)
	OnResponse func(*dispatch.Response)
}

// Step is one tool call made during a turn.
type Step struct {
	Call     dispatch.ToolCall
	Response *dispatch.Response
	// Proposed marks a command taken from a fenced code block rather than a
	// native tool call.
	Proposed bool
}

// Turn is the record of one Ask.
type Turn struct {
	Task  string
	Final string
	Steps []Step
}

// Loop holds the conversation window.
type Loop struct {
	model  Model
	disp   Dispatcher
	opts   Options
	window [][]Message
	log    *clog.Logger
}

// New creates a loop.
func New(model Model, disp Dispatcher, opts Options) *Loop {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Context == nil {
		opts.Context = func() Context { return Context{} }
	}
	return &Loop{model: model, disp: disp, opts: opts, log: clog.Named("assistant")}
}

// Ask runs one task to completion. Tool results, including rejections, are
// fed back to the model until it answers without calling a tool. A command
// proposed in a fenced code block is run once and ends the turn. An engine
// error that needs a session restart ends the turn and is returned.
func (l *Loop) Ask(ctx context.Context, task string) (*Turn, error) {
	if l.model == nil {
		return nil, ErrNoModel
	}
	turn := &Turn{Task: task}
	exchange := []Message{{Role: RoleUser, Content: task}}
	defer func() { l.remember(exchange) }()

	for step := 0; step < l.opts.MaxSteps; step++ {
		p := Prompt{
			System:   l.opts.Context().Render(),
			Messages: append(l.history(), exchange...),
			Tools:    l.disp.Tools(),
		}
		reply, err := l.model.Respond(ctx, p)
		if err != nil {
			return turn, fmt.Errorf("model: %w", err)
		}
		if l.opts.OnReply != nil {
			l.opts.OnReply(reply)
		}

		call, proposed := reply.Call, false
		if call == nil {
			if cmd := ExtractCommand(reply.Text); cmd != "" {
				call, proposed = &dispatch.ToolCall{Name: dispatch.ToolRunCommand, Input: cmd}, true
			}
		}
		exchange = append(exchange, Message{Role: RoleAssistant, Content: reply.Text, Call: call})
		if call == nil {
			turn.Final = reply.Text
			return turn, nil
		}

		l.log.Debug("step %d: %s %q", step, call.Name, call.Input)
		resp, err := l.disp.Dispatch(ctx, *call)
		turn.Steps = append(turn.Steps, Step{Call: *call, Response: resp, Proposed: proposed})
		if resp != nil && l.opts.OnResponse != nil {
			l.opts.OnResponse(resp)
		}
		if err != nil && (shell.NeedsRestart(err) || errors.Is(err, shell.ErrClosed) || ctx.Err() != nil) {
			return turn, err
		}
		exchange = append(exchange, Message{Role: RoleTool, Content: toolResult(resp, err)})

		if proposed {
			turn.Final = reply.Text
			return turn, nil
		}
	}
	return turn, ErrMaxSteps
}

// toolResult is the text fed back to the model after a call.
func toolResult(resp *dispatch.Response, err error) string {
	if resp != nil {
		return resp.ForAssistant()
	}
	return "error: " + err.Error()
}

// history flattens the remembered exchanges, oldest first.
func (l *Loop) history() []Message {
	var out []Message
	for _, ex := range l.window {
		out = append(out, ex...)
	}
	return out
}

func (l *Loop) remember(ex []Message) {
	l.window = append(l.window, ex)
	if len(l.window) > l.opts.Window {
		l.window = l.window[len(l.window)-l.opts.Window:]
	}
}

// Reset forgets the conversation.
func (l *Loop) Reset() {
	l.window = nil
}

// Exchanges returns the number of remembered exchanges.
func (l *Loop) Exchanges() int {
	return len(l.window)
}

// ExtractCommand returns the contents of the first fenced code block in
// text, trimmed, or "" if there is none. An unterminated block runs to the
// end of the text.
func ExtractCommand(text string) string {
	var lines []string
	in := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if in {
				break
			}
			in = true
			continue
		}
		if in {
			lines = append(lines, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
