package dispatch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/pkg/logger"
)

func TestRetrySweepResubmitsDueNotifications(t *testing.T) {
	env := newTestEnv()
	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	rs := NewRetryScheduler(env.repo, env.dispatcher, time.Minute, nil, lg)

	due := newNotification(model.ChannelPush)
	due.Status = model.NotificationStatusRetryScheduled
	past := time.Now().Add(-time.Minute)
	due.NextAttemptAt = &past
	env.repo.retryDue = []*model.Notification{due}

	rs.Sweep(context.Background())

	assert.Equal(t, 1, env.queue.Len())
}

func TestRetrySweepRecoversStrandedPending(t *testing.T) {
	env := newTestEnv()
	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	rs := NewRetryScheduler(env.repo, env.dispatcher, time.Minute, nil, lg)

	stranded := newNotification(model.ChannelPush)
	stranded.UpdatedAt = time.Now().Add(-time.Hour)

	fresh := newNotification(model.ChannelPush)
	fresh.UpdatedAt = time.Now()

	env.repo.pendingStuck = []*model.Notification{stranded, fresh}

	rs.Sweep(context.Background())

	// Only the old row is re-enqueued; a fresh pending row may still be
	// sitting in a live batch window.
	assert.Equal(t, 1, env.queue.Len())
}

func TestRetrySweepSkipsInflightNotifications(t *testing.T) {
	env := newTestEnv()
	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	rs := NewRetryScheduler(env.repo, env.dispatcher, time.Minute, nil, lg)

	due := newNotification(model.ChannelPush)
	due.Status = model.NotificationStatusRetryScheduled
	env.repo.retryDue = []*model.Notification{due}

	env.dispatcher.begin(due.ID)
	defer env.dispatcher.end(due.ID)

	rs.Sweep(context.Background())

	assert.Equal(t, 0, env.queue.Len())
}
