// Package queue decouples webhook acknowledgment from event processing. A
// webhook handler's only synchronous work is parse, classify, enqueue; the
// single consumer does everything slow off the request path.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloompath/internal/classify"
	"bloompath/internal/ticket"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Item is one classified webhook awaiting processing.
type Item struct {
	DeliveryID string
	Provider   string
	Ticket     ticket.UnifiedTicket
	Event      classify.Event
	EnqueuedAt time.Time
}

// Handler processes one dequeued item to completion. It must not panic;
// failures are its own to catch and report.
type Handler func(ctx context.Context, item Item)

// Queue is a bounded FIFO with exactly one consumer, so items for
// different tickets never overlap: each is processed to completion before
// the next is taken.
type Queue struct {
	ch     chan Item
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

func New(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan Item, capacity),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Enqueue adds an item without blocking, assigning a delivery id when the
// caller did not. Returns the delivery id.
func (q *Queue) Enqueue(item Item) (string, error) {
	if item.DeliveryID == "" {
		item.DeliveryID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	select {
	case q.ch <- item:
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		q.logger.Error("queue full, dropping event",
			zap.String("delivery_id", item.DeliveryID),
			zap.String("issue_id", item.Ticket.ID))
		return "", ErrFull
	}
	q.logger.Debug("event enqueued",
		zap.String("delivery_id", item.DeliveryID),
		zap.String("issue_id", item.Ticket.ID),
		zap.String("event_type", string(item.Event.Type)))
	return item.DeliveryID, nil
}

// Depth reports how many items are waiting.
func (q *Queue) Depth() int { return len(q.ch) }

// Start launches the consumer goroutine. It drains until Shutdown closes
// the queue, then processes whatever remains before exiting. Start may be
// called once.
func (q *Queue) Start(ctx context.Context, handle Handler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		defer close(q.done)
		for item := range q.ch {
			start := q.now()
			handle(ctx, item)
			q.logger.Debug("event processed",
				zap.String("delivery_id", item.DeliveryID),
				zap.Duration("took", q.now().Sub(start)))
		}
	}()
}

// Shutdown stops accepting new items and waits for the consumer to drain
// the backlog, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
