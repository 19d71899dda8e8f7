package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/meditrack/reminder-api/internal/model"
)

// Queue is the in-process buffer between producers (sweeps, user
// actions) and the single dispatch worker. It is unbounded; stale
// entries are pruned rather than sent late.
type Queue struct {
	mu    sync.Mutex
	items []*model.Notification
	wake  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(n *model.Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an item is available or the context is done.
func (q *Queue) Dequeue(ctx context.Context) (*model.Notification, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return n, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PruneStale drops queued entries whose scheduled time has aged past
// the horizon, preventing a backlog storm after an outage. It returns
// the dropped entries so the caller can record their fate.
func (q *Queue) PruneStale(now time.Time, horizon time.Duration) []*model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept, dropped []*model.Notification
	for _, n := range q.items {
		if n.ScheduledFor != nil && now.Sub(*n.ScheduledFor) > horizon {
			dropped = append(dropped, n)
			continue
		}
		kept = append(kept, n)
	}
	q.items = kept
	return dropped
}
