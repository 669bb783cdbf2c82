// Package approval provides an in-memory queue for command requests that
// require human review before they may run.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xdg/shelly/internal/events"
	"github.com/xdg/shelly/internal/request"
)

var (
	// ErrNotPending is returned by Resolve for unknown or already resolved ids.
	ErrNotPending = errors.New("request is not pending approval")
	// ErrDuplicate is returned by Add for an id that is already queued.
	ErrDuplicate = errors.New("request already pending")
)

// PendingRequest is a command request awaiting a human decision.
type PendingRequest struct {
	ID       string
	Command  string
	Kind     request.Kind
	Reason   string
	Created  time.Time
	Response chan<- request.Decision // receives exactly one decision
}

// Queue manages pending approval requests with thread-safe operations.
type Queue struct {
	mu       sync.RWMutex
	requests map[string]*PendingRequest
	cancels  map[string]context.CancelFunc // stop the timeout goroutines
	timeout  time.Duration
	events   *events.Hub
}

// NewQueue creates a queue whose requests never time out.
func NewQueue() *Queue {
	return NewQueueWithTimeout(0)
}

// NewQueueWithTimeout creates a queue that rejects requests left undecided
// for longer than timeout. Zero disables the timeout.
func NewQueueWithTimeout(timeout time.Duration) *Queue {
	return &Queue{
		requests: make(map[string]*PendingRequest),
		cancels:  make(map[string]context.CancelFunc),
		timeout:  timeout,
	}
}

// SetEventHub sets the hub that receives an approval event for each request.
func (q *Queue) SetEventHub(hub *events.Hub) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = hub
}

// Timeout returns the approval timeout, zero for none.
func (q *Queue) Timeout() time.Duration {
	return q.timeout
}

// Add queues req under req.ID. The Response channel must have room for one
// decision. If a timeout is configured and nobody decides in time, a
// rejection is sent.
func (q *Queue) Add(req *PendingRequest) error {
	ctx, cancel := context.WithCancel(context.Background())

	q.mu.Lock()
	if _, exists := q.requests[req.ID]; exists {
		q.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrDuplicate, req.ID)
	}
	q.requests[req.ID] = req
	q.cancels[req.ID] = cancel
	hub := q.events
	q.mu.Unlock()

	hub.Broadcast(events.Approval(req.ID, req.Command, req.Reason))

	if q.timeout > 0 {
		go q.handleTimeout(ctx, req.ID)
	}
	return nil
}

// handleTimeout rejects the request if it is still pending when the timeout
// expires.
func (q *Queue) handleTimeout(ctx context.Context, id string) {
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		_ = q.Resolve(id, request.Reject(fmt.Sprintf("approval timed out after %s", q.timeout)))
	}
}

// Resolve delivers d to the pending request and removes it from the queue.
func (q *Queue) Resolve(id string, d request.Decision) error {
	q.mu.Lock()
	req, ok := q.requests[id]
	if ok {
		q.cancels[id]()
		delete(q.requests, id)
		delete(q.cancels, id)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	if req.Response != nil {
		req.Response <- d
	}
	return nil
}

// Get retrieves a pending request by id.
func (q *Queue) Get(id string) (*PendingRequest, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	req, ok := q.requests[id]
	return req, ok
}

// Remove drops a pending request without deciding it and stops its timeout.
// This is a no-op if the id is not found.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cancel, ok := q.cancels[id]; ok {
		cancel()
		delete(q.cancels, id)
	}
	delete(q.requests, id)
}

// List returns copies of all pending requests, oldest first. The Response
// channel is omitted from the copies.
func (q *Queue) List() []PendingRequest {
	q.mu.RLock()
	result := make([]PendingRequest, 0, len(q.requests))
	for _, req := range q.requests {
		result = append(result, PendingRequest{
			ID:      req.ID,
			Command: req.Command,
			Kind:    req.Kind,
			Reason:  req.Reason,
			Created: req.Created,
		})
	}
	q.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.requests)
}
