// Package pump drains a shell's output streams for the lifetime of the
// session. Each stream has its own Pump goroutine that blocks only in Read
// and hands bytes to the capture of the command currently in flight.
package pump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/sentinel"
)

// readSize is the size of each Read call.
const readSize = 32 * 1024

var (
	// ErrStreamClosed is recorded on a capture whose stream ended before the
	// sentinel arrived.
	ErrStreamClosed = errors.New("output stream closed before completion")
	// errSuperseded is recorded on a capture replaced by a newer one.
	errSuperseded = errors.New("capture superseded")
)

// Pump reads one stream until EOF.
type Pump struct {
	stream events.Stream
	r      io.Reader
	log    *clog.Logger

	mu     sync.Mutex
	cur    *Capture
	closed bool
}

// New creates a pump for r. Call Run to start draining.
func New(stream events.Stream, r io.Reader) *Pump {
	return &Pump{
		stream: stream,
		r:      r,
		log:    clog.Named("pump").Named(stream.String()),
	}
}

// Begin installs a capture for the next command. Bytes read from now on are
// routed to it until its sentinel is seen. A capture begun after the stream
// closed is aborted immediately.
func (p *Pump) Begin(tok sentinel.Token, metaLines int, limits Limits, onChunk func([]byte)) *Capture {
	c := newCapture(tok, metaLines, limits, onChunk)

	p.mu.Lock()
	prev := p.cur
	closed := p.closed
	if !closed {
		p.cur = c
	}
	p.mu.Unlock()

	if prev != nil {
		prev.Abort(errSuperseded)
	}
	if closed {
		c.Abort(ErrStreamClosed)
	}
	return c
}

// Detach removes c if it is still the active capture.
func (p *Pump) Detach(c *Capture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == c {
		p.cur = nil
	}
}

// Closed reports whether the stream has ended.
func (p *Pump) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Run drains the stream until EOF or a read error. EOF and reads on a closed
// file return nil. Any active capture is aborted when the stream ends.
func (p *Pump) Run() error {
	buf := make([]byte, readSize)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			p.dispatch(buf[:n])
		}
		if err != nil {
			p.close()
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				p.log.Debug("stream closed")
				return nil
			}
			return fmt.Errorf("%s pump: %w", p.stream, err)
		}
	}
}

func (p *Pump) dispatch(data []byte) {
	p.mu.Lock()
	c := p.cur
	p.mu.Unlock()

	if c == nil {
		p.log.Debug("discarding %d bytes of unsolicited output", len(data))
		return
	}

	finished, leftover := c.write(data)
	if !finished {
		return
	}
	p.Detach(c)
	if len(leftover) > 0 {
		p.log.Debug("discarding %d bytes after sentinel", len(leftover))
	}
}

func (p *Pump) close() {
	p.mu.Lock()
	c := p.cur
	p.cur = nil
	p.closed = true
	p.mu.Unlock()

	if c != nil {
		c.Abort(ErrStreamClosed)
	}
}
