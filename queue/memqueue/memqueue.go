// Package memqueue provides an in-memory queue.Queue with visibility
// timeouts, for tests and single-process setups.
package memqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/trustbridge/intergov/queue"
)

type item struct {
	receipt   string
	body      []byte
	notBefore time.Time
	leased    time.Time // zero when visible
}

// Queue holds items in arrival order. Get leases the first visible item
// for the configured visibility timeout.
type Queue struct {
	mu         sync.Mutex
	items      []*item
	seq        int
	visibility time.Duration
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibility sets the lease duration applied by Get.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns an empty queue with a 30s visibility timeout.
func New(opts ...Option) *Queue {
	q := &Queue{
		visibility: 30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Post enqueues body, hidden until delay has passed.
func (q *Queue) Post(_ context.Context, body []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, &item{
		receipt:   strconv.Itoa(q.seq),
		body:      append([]byte(nil), body...),
		notBefore: q.now().Add(delay),
	})
	return nil
}

// Get leases the first ready item, or returns (nil, nil).
func (q *Queue) Get(_ context.Context) (*queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, it := range q.items {
		if now.Before(it.notBefore) {
			continue
		}
		if !it.leased.IsZero() && now.Before(it.leased.Add(q.visibility)) {
			continue
		}
		it.leased = now
		return &queue.Delivery{
			Body:    append([]byte(nil), it.body...),
			Receipt: it.receipt,
		}, nil
	}
	return nil, nil
}

// Delete removes a leased item. Unknown receipts are ignored.
func (q *Queue) Delete(_ context.Context, d *queue.Delivery) error {
	if d == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.receipt == d.Receipt {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports how many items remain, leased ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
