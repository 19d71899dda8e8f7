package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrack/reminder-api/internal/model"
)

func queuedNotification(scheduledFor *time.Time) *model.Notification {
	n := &model.Notification{ScheduledFor: scheduledFor}
	n.ID = uuid.New()
	return n
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	first := queuedNotification(nil)
	second := queuedNotification(nil)
	q.Enqueue(first)
	q.Enqueue(second)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 0, q.Len())
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	n := queuedNotification(nil)

	done := make(chan *model.Notification, 1)
	go func() {
		got, err := q.Dequeue(context.Background())
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(n)

	select {
	case got := <-done:
		assert.Equal(t, n.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestDequeueHonorsContextCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPruneStaleDropsOnlyAgedEntries(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	old := now.Add(-25 * time.Hour)
	recent := now.Add(-time.Hour)

	stale := queuedNotification(&old)
	fresh := queuedNotification(&recent)
	unscheduled := queuedNotification(nil)
	q.Enqueue(stale)
	q.Enqueue(fresh)
	q.Enqueue(unscheduled)

	dropped := q.PruneStale(now, 24*time.Hour)

	require.Len(t, dropped, 1)
	assert.Equal(t, stale.ID, dropped[0].ID)
	assert.Equal(t, 2, q.Len())
}
