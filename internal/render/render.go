// Package render prints session events to a terminal: a header when a
// command starts, its output as it arrives, and a status line when it ends.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/shell"
)

// Styles used by the renderer. Colors are dropped automatically when the
// output is not a terminal.
type styles struct {
	header   lipgloss.Style
	cont     lipgloss.Style
	stderr   lipgloss.Style
	ok       lipgloss.Style
	failed   lipgloss.Style
	abnormal lipgloss.Style
	approval lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		cont:     r.NewStyle().Foreground(lipgloss.Color("6")),
		stderr:   r.NewStyle().Foreground(lipgloss.Color("1")),
		ok:       r.NewStyle().Foreground(lipgloss.Color("2")),
		failed:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		abnormal: r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		approval: r.NewStyle().Foreground(lipgloss.Color("5")),
	}
}

// Renderer writes events to w. It is safe for concurrent use.
type Renderer struct {
	mu      sync.Mutex
	w       io.Writer
	st      styles
	midLine bool
	// Approvals controls whether approval events are printed. Interactive
	// approvers print their own prompt.
	Approvals bool
}

// New creates a renderer writing to w, with colors chosen for w.
func New(w io.Writer) *Renderer {
	return NewWithRenderer(w, lipgloss.NewRenderer(w))
}

// NewWithRenderer creates a renderer writing to w with colors chosen by lr.
// Use it when w wraps a terminal that lipgloss cannot detect through w.
func NewWithRenderer(w io.Writer, lr *lipgloss.Renderer) *Renderer {
	return &Renderer{w: w, st: newStyles(lr)}
}

// Run renders events from ch until it is closed.
func (r *Renderer) Run(ch <-chan events.Event) {
	for e := range ch {
		r.Handle(e)
	}
}

// Handle renders one event.
func (r *Renderer) Handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case events.TypeStarted:
		r.endLine()
		r.write(r.header(e.Command))
	case events.TypeOutput:
		if len(e.Data) == 0 {
			return
		}
		text := string(e.Data)
		if e.Stream == events.Stderr {
			text = styleLines(r.st.stderr, text)
		}
		r.write(text)
		r.midLine = !strings.HasSuffix(text, "\n")
	case events.TypeFinished:
		r.endLine()
		r.write(r.finished(e) + "\n")
	case events.TypeApproval:
		if r.Approvals {
			r.endLine()
			r.write(r.st.approval.Render("awaiting approval: "+e.Reason) + "\n")
		}
	}
}

func (r *Renderer) write(s string) {
	_, _ = io.WriteString(r.w, s)
}

func (r *Renderer) endLine() {
	if r.midLine {
		r.write("\n")
		r.midLine = false
	}
}

// header renders a command as "$ first line" with "> " continuation lines.
func (r *Renderer) header(command string) string {
	var b strings.Builder
	for i, line := range strings.Split(strings.TrimRight(command, "\n"), "\n") {
		if i == 0 {
			b.WriteString(r.st.header.Render("$ " + line))
		} else {
			b.WriteString(r.st.cont.Render("> " + line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) finished(e events.Event) string {
	switch shell.Status(e.Status) {
	case shell.StatusCompleted:
		if e.ExitCode == 0 {
			return r.st.ok.Render("✓ exit 0")
		}
		return r.st.failed.Render(fmt.Sprintf("✗ exit %d", e.ExitCode))
	case "":
		return r.st.failed.Render("✗ finished")
	default:
		return r.st.abnormal.Render("⚠ " + e.Status)
	}
}

// styleLines applies st to each line of text, keeping the newlines outside
// the styled spans.
func styleLines(st lipgloss.Style, text string) string {
	var b strings.Builder
	for {
		line, rest, found := strings.Cut(text, "\n")
		if line != "" {
			b.WriteString(st.Render(line))
		}
		if !found {
			break
		}
		b.WriteString("\n")
		text = rest
	}
	return b.String()
}

// typeFlush marks a Flush request in the subscription stream.
const typeFlush events.Type = "render.flush"

// Attachment is a renderer subscribed to a hub. Its subscription never
// drops events, so every output chunk and status line is written.
type Attachment struct {
	hub     *events.Hub
	q       *events.Queue
	flushed chan struct{}
	done    chan struct{}
}

// Attach subscribes r to hub and renders in a new goroutine.
func Attach(hub *events.Hub, r *Renderer) *Attachment {
	a := &Attachment{
		hub:     hub,
		flushed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	a.q = hub.SubscribeQueue()
	if a.q == nil {
		close(a.done)
		return a
	}
	go func() {
		defer close(a.done)
		for e := range a.q.C() {
			if e.Type == typeFlush {
				select {
				case a.flushed <- struct{}{}:
				default:
				}
				continue
			}
			r.Handle(e)
		}
	}()
	return a
}

// Flush waits, up to timeout, until every event delivered so far has been
// written.
func (a *Attachment) Flush(timeout time.Duration) {
	if a.q == nil {
		return
	}
	select {
	case <-a.flushed:
	default:
	}
	a.q.Push(events.Event{Type: typeFlush})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.flushed:
	case <-a.done:
	case <-timer.C:
	}
}

// Close unsubscribes and waits for pending events to be written.
func (a *Attachment) Close() {
	if a.q != nil {
		a.hub.UnsubscribeQueue(a.q)
	}
	<-a.done
}
