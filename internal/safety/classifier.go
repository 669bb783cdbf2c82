// Package safety decides whether a command may run without human approval.
//
// The check is a deliberately narrow heuristic: the leading token must be a
// greenlisted read-only program and the text must not contain any operator
// that could compose it into something with side effects. It does not parse
// shell syntax.
package safety

import (
	"strings"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/request"
)

// DefaultGreenlist is the set of read-only commands that run without
// approval. A program belongs here only if no option or argument lets it
// write files or change system state.
var DefaultGreenlist = []string{
	"ls", "pwd", "cat", "grep", "which", "head", "tail", "wc",
	"stat", "whoami", "echo", "uname", "id",
	"df", "du", "basename", "dirname", "realpath",
}

// DefaultOperators are substrings that force approval. "&" also covers "&&"
// and "&>", "|" covers "||", and "<" covers process substitution.
var DefaultOperators = []string{
	"|", "&", ";", ">", "<", "`", "$(", "\n", "\r",
}

// Verdict is the outcome of classifying a command.
type Verdict struct {
	Class request.Classification
	// Reason is a short human-readable explanation.
	Reason string
	// Program is the leading token of the command, if any.
	Program string
	// Operator is the operator that forced approval, if any.
	Operator string
}

// Auto reports whether the verdict allows execution without approval.
func (v Verdict) Auto() bool {
	return v.Class == request.Auto
}

// Classifier holds an immutable greenlist and operator set.
// It is safe for concurrent use.
type Classifier struct {
	greenlist map[string]struct{}
	operators []string
}

// New creates a Classifier. Empty greenlist entries and empty operators are
// skipped with a warning.
func New(greenlist, operators []string) *Classifier {
	c := &Classifier{
		greenlist: make(map[string]struct{}, len(greenlist)),
		operators: make([]string, 0, len(operators)),
	}
	for _, name := range greenlist {
		name = strings.TrimSpace(name)
		if name == "" {
			clog.Warn("safety: empty greenlist entry (skipped)")
			continue
		}
		c.greenlist[name] = struct{}{}
	}
	for _, op := range operators {
		if op == "" {
			clog.Warn("safety: empty operator (skipped)")
			continue
		}
		c.operators = append(c.operators, op)
	}
	return c
}

// NewDefault creates a Classifier with DefaultGreenlist and DefaultOperators.
func NewDefault() *Classifier {
	return New(DefaultGreenlist, DefaultOperators)
}

// Classify returns the verdict for text. Scripts always need approval.
func (c *Classifier) Classify(text string, kind request.Kind) Verdict {
	if kind != request.KindCommand {
		return Verdict{Class: request.NeedsApproval, Reason: "scripts always require approval"}
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Verdict{Class: request.NeedsApproval, Reason: "empty command"}
	}
	program := fields[0]

	for _, op := range c.operators {
		if strings.Contains(text, op) {
			return Verdict{
				Class:    request.NeedsApproval,
				Reason:   "contains operator " + quoteOperator(op),
				Program:  program,
				Operator: op,
			}
		}
	}

	if _, ok := c.greenlist[program]; !ok {
		return Verdict{
			Class:   request.NeedsApproval,
			Reason:  program + " is not in the greenlist",
			Program: program,
		}
	}

	return Verdict{
		Class:   request.Auto,
		Reason:  "greenlisted: " + program,
		Program: program,
	}
}

// Greenlist returns the greenlisted names in no particular order.
func (c *Classifier) Greenlist() []string {
	names := make([]string, 0, len(c.greenlist))
	for name := range c.greenlist {
		names = append(names, name)
	}
	return names
}

// quoteOperator makes control characters readable in reasons.
func quoteOperator(op string) string {
	switch op {
	case "\n":
		return `"\n"`
	case "\r":
		return `"\r"`
	default:
		return `"` + op + `"`
	}
}
