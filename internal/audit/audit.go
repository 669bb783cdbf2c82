// Package audit records every command request and its fate.
// Log entries follow a key=value format suitable for parsing and analysis.
package audit

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xdg/shelly/internal/request"
)

// EventType represents the type of audit event.
type EventType string

// Event types for command requests.
const (
	EventRequest     EventType = "REQUEST"
	EventAutoApprove EventType = "AUTO_APPROVE"
	EventApprove     EventType = "APPROVE"
	EventReject      EventType = "REJECT"
	EventComplete    EventType = "COMPLETE"
	EventFail        EventType = "FAIL"
	EventTimeout     EventType = "TIMEOUT"
	EventCrash       EventType = "CRASH"
	EventCancel      EventType = "CANCEL"
)

// EventMan records a manual page lookup, which bypasses approval.
const EventMan EventType = "MAN"

// Event is one audit log entry.
type Event struct {
	Timestamp time.Time
	Type      EventType

	// ID is the request id. Empty for man lookups.
	ID   string
	Kind string
	// Cmd is the command text, or the topic for man lookups.
	Cmd string

	// Reason is the classification reason (REQUEST, AUTO_APPROVE), the
	// rejection reason (REJECT) or the engine error (TIMEOUT, CRASH, CANCEL).
	Reason string

	// ExitCode and Duration are set for COMPLETE, FAIL and MAN.
	ExitCode int
	Duration time.Duration
}

// Format returns the log entry as a formatted string.
// Format: 2024-01-15T14:32:05Z SHELL REQUEST id=6f1c... kind=command cmd="rm -rf build" reason="..."
func (e *Event) Format() string {
	var b strings.Builder

	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	if e.Type == EventMan {
		b.WriteString(" MAN topic=")
		b.WriteString(quoteValue(e.Cmd))
		writeExit(&b, e)
		return b.String()
	}

	b.WriteString(" SHELL ")
	b.WriteString(string(e.Type))
	b.WriteString(" id=")
	b.WriteString(e.ID)
	if e.Kind != "" {
		b.WriteString(" kind=")
		b.WriteString(e.Kind)
	}
	b.WriteString(" cmd=")
	b.WriteString(quoteValue(e.Cmd))

	switch e.Type {
	case EventComplete, EventFail:
		writeExit(&b, e)
	default:
		writeOptionalField(&b, "reason", e.Reason)
	}
	return b.String()
}

func writeExit(b *strings.Builder, e *Event) {
	b.WriteString(" exit=")
	b.WriteString(strconv.Itoa(e.ExitCode))
	b.WriteString(" duration=")
	b.WriteString(formatDuration(e.Duration))
}

// writeOptionalField appends " key=quoted_value" to the builder if value is non-empty.
func writeOptionalField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(quoteValue(value))
}

// quoteValue returns a quoted string value.
// Values are always quoted so multi-line scripts stay on one line.
func quoteValue(s string) string {
	return strconv.Quote(s)
}

// formatDuration formats a duration as a human-readable string (e.g., "2.3s", "1m30s").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// Logger writes audit events to an io.Writer. A nil Logger discards events.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewLogger creates a new audit logger that writes to the given writer.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Log writes an event to the audit log, stamping it if needed.
func (l *Logger) Log(e *Event) error {
	if l == nil || l.w == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if _, err := io.WriteString(l.w, e.Format()+"\n"); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogRequest logs a REQUEST event with the classification reason.
func (l *Logger) LogRequest(r *request.CommandRequest) error {
	return l.Log(&Event{
		Type:   EventRequest,
		ID:     r.ID,
		Kind:   r.Kind.String(),
		Cmd:    r.Text,
		Reason: r.Classification.String() + ": " + r.Reason,
	})
}

// LogAutoApprove logs an AUTO_APPROVE event.
func (l *Logger) LogAutoApprove(r *request.CommandRequest) error {
	return l.Log(&Event{Type: EventAutoApprove, ID: r.ID, Cmd: r.Text, Reason: r.Reason})
}

// LogApprove logs an APPROVE event.
func (l *Logger) LogApprove(r *request.CommandRequest) error {
	return l.Log(&Event{Type: EventApprove, ID: r.ID, Cmd: r.Text})
}

// LogReject logs a REJECT event.
func (l *Logger) LogReject(r *request.CommandRequest, reason string) error {
	return l.Log(&Event{Type: EventReject, ID: r.ID, Cmd: r.Text, Reason: reason})
}

// LogComplete logs a COMPLETE event for exit status 0, FAIL otherwise.
func (l *Logger) LogComplete(r *request.CommandRequest, exitCode int, duration time.Duration) error {
	typ := EventComplete
	if exitCode != 0 {
		typ = EventFail
	}
	return l.Log(&Event{Type: typ, ID: r.ID, Cmd: r.Text, ExitCode: exitCode, Duration: duration})
}

// LogEngineError logs a TIMEOUT, CRASH or CANCEL event.
func (l *Logger) LogEngineError(typ EventType, r *request.CommandRequest, err error) error {
	return l.Log(&Event{Type: typ, ID: r.ID, Cmd: r.Text, Reason: err.Error()})
}

// LogMan logs a manual page lookup.
func (l *Logger) LogMan(topic string, exitCode int, duration time.Duration) error {
	return l.Log(&Event{Type: EventMan, Cmd: topic, ExitCode: exitCode, Duration: duration})
}
