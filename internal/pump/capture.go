package pump

import (
	"bytes"
	"sync"
	"unicode/utf8"

	"github.com/xdg/shelly/internal/sentinel"
)

// Limits bounds the output kept per stream per call. Zero means unlimited.
// MaxChars counts UTF-8 characters; each byte of invalid UTF-8 counts as one.
type Limits struct {
	MaxLines int
	MaxChars int
}

// DefaultLimits are the per-stream truncation limits.
var DefaultLimits = Limits{MaxLines: 1000, MaxChars: 80000}

// Snapshot is the state of a capture at one point in time.
type Snapshot struct {
	Data      []byte
	Truncated bool
	// Complete is true when the sentinel was observed.
	Complete bool
	// ExitCode and Meta are only meaningful when Complete is true.
	ExitCode int
	Meta     []string
	// Err records why an incomplete capture stopped.
	Err error
}

// Capture collects one stream's output for a single command. It is safe for
// concurrent use by the pump goroutine and the waiting caller.
type Capture struct {
	mu        sync.Mutex
	det       *sentinel.Detector
	limits    Limits
	buf       bytes.Buffer
	lines     int
	chars     int
	truncated bool
	closed    bool
	err       error
	done      chan struct{}
	onChunk   func([]byte)
}

func newCapture(tok sentinel.Token, metaLines int, limits Limits, onChunk func([]byte)) *Capture {
	return &Capture{
		det:     sentinel.NewDetector(tok, metaLines),
		limits:  limits,
		done:    make(chan struct{}),
		onChunk: onChunk,
	}
}

// Done is closed once the sentinel is observed or the capture is aborted.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// write feeds stream bytes through the detector. It reports whether the
// capture is finished and returns any bytes that followed the sentinel.
func (c *Capture) write(p []byte) (finished bool, leftover []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true, p
	}
	c.commit(c.det.Feed(p))
	if c.det.Done() {
		c.finish(nil)
		return true, c.det.Leftover()
	}
	return false, nil
}

// Abort stops the capture, keeping any held-back bytes as output. It is a
// no-op once the capture has finished.
func (c *Capture) Abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.commit(c.det.Flush())
	c.finish(err)
}

func (c *Capture) finish(err error) {
	c.closed = true
	c.err = err
	close(c.done)
}

// commit appends p to the buffer, enforcing the limits. Once anything has
// been discarded, all later bytes are discarded too.
func (c *Capture) commit(p []byte) {
	if len(p) == 0 || c.truncated {
		return
	}

	keep := p
	if c.limits.MaxChars > 0 {
		if cut, ok := cutAfterChars(keep, c.limits.MaxChars-c.chars); ok {
			keep = keep[:cut]
		}
	}
	if c.limits.MaxLines > 0 {
		if cut, ok := cutAfterLines(keep, c.limits.MaxLines-c.lines); ok {
			keep = keep[:cut]
		}
	}
	if len(keep) < len(p) {
		c.truncated = true
	}
	if len(keep) == 0 {
		return
	}

	c.buf.Write(keep)
	c.lines += bytes.Count(keep, []byte{'\n'})
	c.chars += countChars(keep)
	if c.onChunk != nil {
		c.onChunk(keep)
	}
}

// cutAfterLines returns the offset just past the n-th newline in b, if any
// bytes follow it.
func cutAfterLines(b []byte, n int) (int, bool) {
	if n <= 0 {
		return 0, len(b) > 0
	}
	off := 0
	for i := 0; i < n; i++ {
		j := bytes.IndexByte(b[off:], '\n')
		if j < 0 {
			return 0, false
		}
		off += j + 1
	}
	return off, off < len(b)
}

// cutAfterChars returns the offset where character n+1 starts in b, if b
// holds more than n characters. Continuation bytes count with the character
// they belong to, so a rune split across writes is kept whole.
func cutAfterChars(b []byte, n int) (int, bool) {
	for i, x := range b {
		if !utf8.RuneStart(x) {
			continue
		}
		if n <= 0 {
			return i, true
		}
		n--
	}
	return len(b), false
}

// countChars counts the characters that start in b.
func countChars(b []byte) int {
	n := 0
	for _, x := range b {
		if utf8.RuneStart(x) {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the capture's current state.
func (c *Capture) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Data:      bytes.Clone(c.buf.Bytes()),
		Truncated: c.truncated,
		Complete:  c.det.Done(),
		Err:       c.err,
	}
	if s.Complete {
		s.ExitCode = c.det.ExitCode()
		s.Meta = c.det.Meta()
	}
	return s
}
