package dispatch

import (
	"fmt"
	"strings"

	"github.com/xdg/shelly/internal/gate"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/shell"
)

// Response is the outcome of one tool call.
type Response struct {
	Tool  string
	Input string

	// Request and State are set for gated calls.
	Request *request.CommandRequest
	State   gate.State

	// Result is nil when the request was rejected.
	Result *shell.Result
	// Rejection is the user's reason, verbatim.
	Rejection string
	// Text is the cleaned manual page for man calls.
	Text string
	// Err is an engine error or a failed man lookup.
	Err error
}

// Rejected reports whether the user declined the request.
func (r *Response) Rejected() bool {
	return r.Request != nil && r.State == gate.Rejected
}

// ForAssistant renders the response as the text fed back to the model.
func (r *Response) ForAssistant() string {
	if r.Rejected() {
		reason := r.Rejection
		if reason == "" {
			reason = "no reason given"
		}
		return "The user rejected this command. Reason: " + reason
	}

	var b strings.Builder
	if r.Tool == ToolMan && r.Err == nil {
		b.WriteString(r.Text)
		if r.Result != nil && r.Result.Truncated {
			b.WriteString("\n[manual page truncated]")
		}
		return b.String()
	}

	if res := r.Result; res != nil {
		writeSection(&b, "stdout", res.Stdout)
		writeSection(&b, "stderr", res.Stderr)
		if res.Truncated {
			b.WriteString("[output truncated]\n")
		}
		fmt.Fprintf(&b, "[%s]", res.Summary())
	}
	if r.Err != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "error: %v", r.Err)
	}
	return b.String()
}

func writeSection(b *strings.Builder, name, text string) {
	if text == "" {
		return
	}
	b.WriteString(name)
	b.WriteString(":\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
}
