// Package events fans out execution events (command started, output chunk,
// command finished, approval requested) to renderers and other observers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeStarted is sent when a command begins executing in the session.
	TypeStarted Type = "started"
	// TypeOutput carries a chunk of captured output.
	TypeOutput Type = "output"
	// TypeFinished is sent when a command completes, fails or is rejected.
	TypeFinished Type = "finished"
	// TypeApproval is sent when a command is waiting for a human decision.
	TypeApproval Type = "approval"
)

// Stream identifies one of the shell's output streams.
type Stream int

const (
	// Stdout is the shell's standard output.
	Stdout Stream = iota
	// Stderr is the shell's standard error.
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Event is a single notification. Fields not relevant to Type are zero.
type Event struct {
	Type      Type
	RequestID string
	Command   string
	Time      time.Time

	// Output events.
	Stream Stream
	Data   []byte

	// Finished events.
	Status   string
	ExitCode int
	Reason   string
}

// Hub manages subscribers and broadcasts events. It is safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[chan Event]struct{}
	queues   map[*Queue]struct{}
	bufSize  int
	shutdown bool
	dropped  atomic.Uint64
}

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// NewHub creates a hub with DefaultBufferSize subscriber buffers.
func NewHub() *Hub {
	return NewHubWithBuffer(DefaultBufferSize)
}

// NewHubWithBuffer creates a hub with the given subscriber buffer size.
func NewHubWithBuffer(size int) *Hub {
	return &Hub{
		clients: make(map[chan Event]struct{}),
		queues:  make(map[*Queue]struct{}),
		bufSize: size,
	}
}

// Subscribe registers a new subscriber. The caller must call Unsubscribe when
// done. Returns nil after Close.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil
	}

	ch := make(chan Event, h.bufSize)
	h.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// SubscribeQueue registers a subscriber that never misses an event. Events
// queue without bound until the subscriber reads them, so it must keep
// reading C until it is closed. Returns nil after Close.
func (h *Hub) SubscribeQueue() *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil
	}
	q := newQueue()
	h.queues[q] = struct{}{}
	return q
}

// UnsubscribeQueue removes q. Events already queued are still delivered
// before C is closed.
func (h *Hub) UnsubscribeQueue(q *Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.queues[q]; ok {
		delete(h.queues, q)
		q.close()
	}
}

// Broadcast sends an event to all subscribers without blocking. Channel
// subscribers with full buffers miss the event; the miss is counted in
// Dropped. Queue subscribers always receive it.
// A nil hub ignores the call.
func (h *Hub) Broadcast(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
	for q := range h.queues {
		q.Push(e)
	}
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.shutdown = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
	for q := range h.queues {
		q.close()
		delete(h.queues, q)
	}
}

// ClientCount returns the number of subscribers of either kind.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) + len(h.queues)
}

// Dropped returns the number of events not delivered because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Queue is an unbounded, ordered event subscription. A goroutine moves
// queued events to C as the reader takes them.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
}

func newQueue() *Queue {
	q := &Queue{wake: make(chan struct{}, 1), out: make(chan Event)}
	go q.forward()
	return q
}

// C returns the delivery channel. It is closed once the queue is closed and
// drained.
func (q *Queue) C() <-chan Event { return q.out }

// Push appends e. Pushes after close are ignored.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of events not yet taken from C.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()
		q.out <- e
	}
}

// Started builds a started event.
func Started(id, command string) Event {
	return Event{Type: TypeStarted, RequestID: id, Command: command}
}

// Output builds an output event. data is copied.
func Output(id string, stream Stream, data []byte) Event {
	return Event{
		Type:      TypeOutput,
		RequestID: id,
		Stream:    stream,
		Data:      append([]byte(nil), data...),
	}
}

// Finished builds a finished event.
func Finished(id, command, status string, exitCode int) Event {
	return Event{
		Type:      TypeFinished,
		RequestID: id,
		Command:   command,
		Status:    status,
		ExitCode:  exitCode,
	}
}

// Approval builds an approval-requested event.
func Approval(id, command, reason string) Event {
	return Event{Type: TypeApproval, RequestID: id, Command: command, Reason: reason}
}
