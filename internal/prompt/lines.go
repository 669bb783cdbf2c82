package prompt

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Lines hands out input lines read by a single goroutine. Every reader of a
// terminal (the REPL, the approver, the reason prompt) takes lines from the
// same Lines, so a prompt abandoned through its context stops waiting and
// the next line goes to whoever asks next.
type Lines struct {
	r     io.Reader
	start sync.Once
	ch    chan string
	stop  chan struct{}
	close sync.Once

	mu   sync.Mutex
	held *string
	err  error
}

// NewLines creates a Lines reading from r. Reading starts with the first
// ReadLine call.
func NewLines(r io.Reader) *Lines {
	return &Lines{r: r, ch: make(chan string), stop: make(chan struct{})}
}

func (l *Lines) pump() {
	defer close(l.ch)
	br := bufio.NewReader(l.r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case l.ch <- line:
			case <-l.stop:
				return
			}
		}
		if err != nil {
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			return
		}
	}
}

// ReadLine returns the next line including its newline. A final line
// without one is returned as is, and io.EOF follows it. When ctx ends first
// the wait is abandoned and no input is consumed.
func (l *Lines) ReadLine(ctx context.Context) (string, error) {
	l.start.Do(func() { go l.pump() })

	l.mu.Lock()
	if l.held != nil {
		line := *l.held
		l.held = nil
		l.mu.Unlock()
		return line, nil
	}
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case line, ok := <-l.ch:
		if !ok {
			return "", l.readErr()
		}
		if err := ctx.Err(); err != nil {
			l.mu.Lock()
			l.held = &line
			l.mu.Unlock()
			return "", err
		}
		return line, nil
	case <-l.stop:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Lines) readErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		return io.EOF
	}
	return l.err
}

// Close stops handing out lines; later reads return io.EOF. A read already
// blocked in the underlying reader is not interrupted.
func (l *Lines) Close() {
	l.close.Do(func() { close(l.stop) })
}
