// Package prompt asks the operator questions on the terminal: yes/no
// confirmations and free-text answers. Each question type is an interface
// with a stdin implementation and a scripted mock.
//
// The REPL, the approver and the reason prompt all read one terminal. They
// must share a single *Lines, so no prompt reads input meant for another.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidInput is returned when a yes/no answer is neither.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoInput is returned when input ends before an answer.
	ErrNoInput = errors.New("no input")
)

// YesNoPrompter asks a yes/no question.
type YesNoPrompter interface {
	// PromptYesNo shows prompt and reports whether the answer was yes. An
	// empty answer yields defaultYes. When ctx ends first it returns
	// ctx.Err() without consuming input.
	PromptYesNo(ctx context.Context, prompt string, defaultYes bool) (bool, error)
}

// LinePrompter reads one free-text answer.
type LinePrompter interface {
	// PromptLine displays prompt and returns the trimmed answer, or def if
	// the answer is empty.
	PromptLine(ctx context.Context, prompt, def string) (string, error)
}

// readAnswer reads one line from in. End of input after a partial line is a
// normal answer; end of input with nothing read is ErrNoInput.
func readAnswer(ctx context.Context, in *Lines) (string, error) {
	line, err := in.ReadLine(ctx)
	switch {
	case err == nil:
		return strings.TrimSpace(line), nil
	case ctx.Err() != nil:
		return "", err
	case errors.Is(err, io.EOF):
		return "", ErrNoInput
	}
	return "", fmt.Errorf("failed to read input: %w", err)
}

// StdinYesNoPrompter reads answers from In and writes prompts to Out.
type StdinYesNoPrompter struct {
	In  *Lines
	Out io.Writer
}

// NewStdinYesNoPrompter creates a StdinYesNoPrompter.
func NewStdinYesNoPrompter(in *Lines, w io.Writer) *StdinYesNoPrompter {
	return &StdinYesNoPrompter{In: in, Out: w}
}

// PromptYesNo implements YesNoPrompter. Answers are y/yes and n/no in any
// case; anything else is ErrInvalidInput.
func (p *StdinYesNoPrompter) PromptYesNo(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	_, _ = fmt.Fprint(p.Out, prompt)

	line, err := readAnswer(ctx, p.In)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w %q: expected y/n", ErrInvalidInput, line)
}

// StdinLinePrompter reads answers from In and writes prompts to Out.
type StdinLinePrompter struct {
	In  *Lines
	Out io.Writer
}

// NewStdinLinePrompter creates a StdinLinePrompter.
func NewStdinLinePrompter(in *Lines, w io.Writer) *StdinLinePrompter {
	return &StdinLinePrompter{In: in, Out: w}
}

// PromptLine implements LinePrompter.
func (p *StdinLinePrompter) PromptLine(ctx context.Context, prompt, def string) (string, error) {
	_, _ = fmt.Fprint(p.Out, prompt)

	line, err := readAnswer(ctx, p.In)
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

// next pops the answer for call number *n from a scripted queue. ok is false
// when the queue is exhausted and the caller should fall back to its default.
func next[T any](vals []T, errs []error, n *int) (v T, ok bool, err error) {
	i := *n
	*n++
	if i < len(errs) && errs[i] != nil {
		return v, false, errs[i]
	}
	if i < len(vals) {
		return vals[i], true, nil
	}
	return v, false, nil
}

// MockYesNoPrompter answers from a script. Tests use it in place of a
// terminal.
type MockYesNoPrompter struct {
	Responses []bool
	// Errors[i], when non-nil, is returned by call i instead of Responses[i].
	Errors []error
	Calls  []MockYesNoCall

	n int
}

// MockYesNoCall is one recorded PromptYesNo call.
type MockYesNoCall struct {
	Prompt     string
	DefaultYes bool
}

// NewMockYesNoPrompter scripts the given answers.
func NewMockYesNoPrompter(responses ...bool) *MockYesNoPrompter {
	return &MockYesNoPrompter{Responses: responses}
}

// PromptYesNo implements YesNoPrompter. Past the end of the script it
// answers defaultYes.
func (m *MockYesNoPrompter) PromptYesNo(_ context.Context, prompt string, defaultYes bool) (bool, error) {
	m.Calls = append(m.Calls, MockYesNoCall{Prompt: prompt, DefaultYes: defaultYes})
	v, ok, err := next(m.Responses, m.Errors, &m.n)
	if err != nil || !ok {
		return defaultYes, err
	}
	return v, nil
}

// MockLinePrompter answers from a script. An empty scripted answer, like an
// empty line at a terminal, yields the default.
type MockLinePrompter struct {
	Responses []string
	Errors    []error
	Calls     []string

	n int
}

// NewMockLinePrompter scripts the given answers.
func NewMockLinePrompter(responses ...string) *MockLinePrompter {
	return &MockLinePrompter{Responses: responses}
}

// PromptLine implements LinePrompter.
func (m *MockLinePrompter) PromptLine(_ context.Context, prompt, def string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	v, ok, err := next(m.Responses, m.Errors, &m.n)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return def, nil
	}
	return v, nil
}
