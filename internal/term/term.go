// Package term writes shelly's user-facing output: the prompt, rendered
// command output and notices on stdout, warnings and errors on stderr.
// Operational logging goes through internal/clog instead.
//
// With --silent, stdout output is dropped. Warnings and errors always print,
// with their prefix colored when stderr is a terminal.
package term

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console is a pair of output streams with a silent switch. All writes are
// serialized, so command output rendered from another goroutine never
// splits a prompt or a notice.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	silent bool
	warn   lipgloss.Style
	fail   lipgloss.Style
}

// NewConsole creates a console writing to out and errOut. Nil selects
// os.Stdout and os.Stderr.
func NewConsole(out, errOut io.Writer) *Console {
	c := &Console{}
	c.setOutput(out)
	c.setErrOutput(errOut)
	return c
}

func (c *Console) setOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	c.out = w
}

func (c *Console) setErrOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	c.errOut = w
	r := lipgloss.NewRenderer(w)
	c.warn = r.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	c.fail = r.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
}

// SetOutput replaces the stdout writer.
func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setOutput(w)
}

// SetErrOutput replaces the stderr writer and picks colors for it.
func (c *Console) SetErrOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setErrOutput(w)
}

// SetSilent drops stdout output while s is true.
func (c *Console) SetSilent(s bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.silent = s
}

// Write implements io.Writer on the stdout side.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.silent {
		return len(p), nil
	}
	return c.out.Write(p)
}

// Printf writes to stdout unless silent.
func (c *Console) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c, format, a...)
}

// Warn writes "Warning: msg" to stderr.
func (c *Console) Warn(format string, a ...any) {
	c.notice(c.warn, "Warning:", format, a...)
}

// Error writes "Error: msg" to stderr.
func (c *Console) Error(format string, a ...any) {
	c.notice(c.fail, "Error:", format, a...)
}

func (c *Console) notice(st lipgloss.Style, prefix, format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.errOut, "%s %s\n", st.Render(prefix), fmt.Sprintf(format, a...))
}

// Stderr returns the current stderr writer.
func (c *Console) Stderr() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errOut
}

// std is the process console used by the package-level functions.
var std = NewConsole(nil, nil)

// SetOutput sets the stdout writer. Nil restores os.Stdout.
func SetOutput(w io.Writer) { std.SetOutput(w) }

// SetErrOutput sets the stderr writer. Nil restores os.Stderr.
func SetErrOutput(w io.Writer) { std.SetErrOutput(w) }

// SetSilent enables or disables silent mode.
func SetSilent(s bool) { std.SetSilent(s) }

// Print writes to stdout unless silent.
func Print(a ...any) { _, _ = fmt.Fprint(std, a...) }

// Printf writes to stdout unless silent.
func Printf(format string, a ...any) { std.Printf(format, a...) }

// Println writes to stdout with a trailing newline unless silent.
func Println(a ...any) { _, _ = fmt.Fprintln(std, a...) }

// Warn writes a warning to stderr. Never silenced.
func Warn(format string, a ...any) { std.Warn(format, a...) }

// Error writes an error to stderr. Never silenced.
func Error(format string, a ...any) { std.Error(format, a...) }

// Writer returns the process console as an io.Writer. It follows later
// SetOutput and SetSilent calls, so it can be handed to a renderer once.
func Writer() io.Writer { return std }

// Stderr returns the current stderr writer, for prompts that must reach the
// user even in silent mode.
func Stderr() io.Writer { return std.Stderr() }

// Reset restores os.Stdout, os.Stderr and normal mode.
func Reset() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.setOutput(nil)
	std.setErrOutput(nil)
	std.silent = false
}

// Discard drops all output. Tests use it to keep go test output clean.
func Discard() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.setOutput(io.Discard)
	std.setErrOutput(io.Discard)
}
