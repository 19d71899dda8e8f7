package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrack/reminder-api/internal/channel"
	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/service/notification"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/ratelimit"
)

type fakeRepo struct {
	mu           sync.Mutex
	store        map[uuid.UUID]*model.Notification
	retryDue     []*model.Notification
	pendingStuck []*model.Notification
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{store: make(map[uuid.UUID]*model.Notification)}
}

func (r *fakeRepo) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.store[n.ID] = &cp
	return nil
}

func (r *fakeRepo) Update(_ context.Context, n *model.Notification) error {
	return r.Create(context.Background(), n)
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.store[id]
	if !ok {
		return nil, apperrors.NewNotFound("notification not found", nil)
	}
	cp := *n
	return &cp, nil
}

func (r *fakeRepo) List(context.Context, *model.NotificationFilters) ([]*model.Notification, error) {
	return nil, nil
}

func (r *fakeRepo) ListRetryDue(context.Context, time.Time, int) ([]*model.Notification, error) {
	return r.retryDue, nil
}

func (r *fakeRepo) ListPendingBefore(_ context.Context, cutoff time.Time, _ int) ([]*model.Notification, error) {
	var stranded []*model.Notification
	for _, n := range r.pendingStuck {
		if !n.UpdatedAt.After(cutoff) {
			stranded = append(stranded, n)
		}
	}
	return stranded, nil
}

func (r *fakeRepo) HasReminder(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (r *fakeRepo) CancelPendingForMedication(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) get(t *testing.T, id uuid.UUID) *model.Notification {
	t.Helper()
	n, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

type fakeMedRepo struct {
	mu   sync.Mutex
	meds map[uuid.UUID]*model.Medication
}

func newFakeMedRepo() *fakeMedRepo {
	return &fakeMedRepo{meds: make(map[uuid.UUID]*model.Medication)}
}

func (r *fakeMedRepo) Get(_ context.Context, id uuid.UUID) (*model.Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meds[id]
	if !ok {
		return nil, apperrors.NewNotFound("medication not found", nil)
	}
	return m, nil
}

func (r *fakeMedRepo) Update(context.Context, *model.Medication) error { return nil }

func (r *fakeMedRepo) ListActive(context.Context, time.Time) ([]*model.Medication, error) {
	return nil, nil
}

func (r *fakeMedRepo) ListByUser(context.Context, uuid.UUID) ([]*model.Medication, error) {
	return nil, nil
}

type sendCall struct {
	recipient string
	title     string
	body      string
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	calls []sendCall
}

func (s *fakeSender) Send(_ context.Context, recipient, title, body string, _ model.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{recipient: recipient, title: title, body: body})
	return s.err
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type testEnv struct {
	dispatcher *Dispatcher
	queue      *Queue
	repo       *fakeRepo
	meds       *fakeMedRepo
	push       *fakeSender
	email      *fakeSender
	limiter    *ratelimit.Limiter
}

func newTestEnv() *testEnv {
	queue := NewQueue()
	repo := newFakeRepo()
	meds := newFakeMedRepo()
	push := &fakeSender{}
	email := &fakeSender{}
	limiter := ratelimit.New(map[string]time.Duration{
		"push":  time.Hour,
		"email": time.Hour,
	}, time.Hour)

	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	d := NewDispatcher(
		queue, repo, meds,
		map[model.Channel]channel.Sender{
			model.ChannelPush:  push,
			model.ChannelEmail: email,
		},
		limiter, nil, notification.NewTemplateRegistry(),
		Config{RetryDelay: 5 * time.Minute, SendTimeout: time.Second, StaleAfter: 24 * time.Hour},
		nil, lg,
	)

	return &testEnv{dispatcher: d, queue: queue, repo: repo, meds: meds, push: push, email: email, limiter: limiter}
}

func newNotification(channels ...model.Channel) *model.Notification {
	n := &model.Notification{
		UserID:            uuid.New(),
		Type:              model.EventMedicationDue,
		Title:             "Time to take Aspirin",
		Message:           "Aspirin (100mg) is due at 09:00.",
		Urgency:           model.UrgencyNormal,
		Status:            model.NotificationStatusPending,
		MaxRetries:        3,
		ChannelsToAttempt: channels,
		Data: model.JSONMap{
			notification.DataKeyPushAddress:  "device-token-1",
			notification.DataKeyEmailAddress: "user@example.com",
		},
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.Recipient = n.UserID.String()
	return n
}

func TestProcessStopsOnFirstSuccess(t *testing.T) {
	env := newTestEnv()
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, 1, env.push.callCount())
	assert.Equal(t, 0, env.email.callCount(), "later channels must not be attempted after a success")

	require.Len(t, stored.ChannelsAttempted, 1)
	assert.Equal(t, model.ChannelPush, stored.ChannelsAttempted[0].Channel)
	assert.Equal(t, model.AttemptOutcomeDelivered, stored.ChannelsAttempted[0].Outcome)
}

func TestProcessFallsBackToNextChannel(t *testing.T) {
	env := newTestEnv()
	env.push.err = errors.New("gateway returned 502")
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusSent, stored.Status)
	assert.Equal(t, 1, env.push.callCount())
	assert.Equal(t, 1, env.email.callCount())

	require.Len(t, stored.ChannelsAttempted, 2)
	assert.Equal(t, model.AttemptOutcomeFailed, stored.ChannelsAttempted[0].Outcome)
	assert.Contains(t, stored.ChannelsAttempted[0].Error, "502")
	assert.Equal(t, model.AttemptOutcomeDelivered, stored.ChannelsAttempted[1].Outcome)
}

func TestProcessSchedulesRetryWhenAllChannelsFail(t *testing.T) {
	env := newTestEnv()
	env.push.err = errors.New("push down")
	env.email.err = errors.New("smtp down")
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	before := time.Now()
	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusRetryScheduled, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextAttemptAt)
	assert.WithinDuration(t, before.Add(5*time.Minute), *stored.NextAttemptAt, 5*time.Second)
}

func TestProcessDeadLettersAfterMaxAttempts(t *testing.T) {
	env := newTestEnv()
	env.push.err = errors.New("push down")
	env.email.err = errors.New("smtp down")
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	ctx := context.Background()
	for attempt := 1; attempt <= 3; attempt++ {
		env.dispatcher.Process(ctx, env.repo.get(t, n.ID))

		stored := env.repo.get(t, n.ID)
		assert.Equal(t, attempt, stored.RetryCount)
		if attempt < 3 {
			assert.Equal(t, model.NotificationStatusRetryScheduled, stored.Status)
			// Make the retry due so the next cycle runs.
			past := time.Now().Add(-time.Minute)
			stored.NextAttemptAt = &past
			require.NoError(t, env.repo.Update(ctx, stored))
		}
	}

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusDeadLettered, stored.Status)
	assert.Nil(t, stored.NextAttemptAt)

	// A fourth cycle is a no-op on a terminal notification.
	sends := env.push.callCount()
	env.dispatcher.Process(ctx, stored)
	assert.Equal(t, sends, env.push.callCount())
}

func TestProcessRateLimitSkipKeepsRetryBudget(t *testing.T) {
	env := newTestEnv()
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	now := time.Now()
	env.limiter.Record(n.Recipient, "push", now)
	env.limiter.Record(n.Recipient, "email", now)

	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusRetryScheduled, stored.Status)
	assert.Equal(t, 0, stored.RetryCount, "skips must not consume the retry budget")
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, stored.NextAttemptAt.After(now))
	assert.Equal(t, 0, env.push.callCount())
	assert.Equal(t, 0, env.email.callCount())

	require.Len(t, stored.ChannelsAttempted, 2)
	for _, at := range stored.ChannelsAttempted {
		assert.Equal(t, model.AttemptOutcomeSkipped, at.Outcome)
	}
}

func TestProcessCancelsWhenMedicationInactive(t *testing.T) {
	env := newTestEnv()
	medID := uuid.New()
	med := &model.Medication{Status: model.MedicationStatusPaused}
	med.ID = medID
	env.meds.meds[medID] = med

	n := newNotification(model.ChannelPush)
	n.MedicationID = &medID
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusCancelled, stored.Status)
	assert.Equal(t, 0, env.push.callCount())
}

func TestProcessDropsStaleNotification(t *testing.T) {
	env := newTestEnv()
	n := newNotification(model.ChannelPush)
	old := time.Now().Add(-25 * time.Hour)
	n.ScheduledFor = &old
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusCancelled, stored.Status)
	assert.Equal(t, 0, env.push.callCount())
}

func TestProcessSkipsTerminalNotification(t *testing.T) {
	env := newTestEnv()
	n := newNotification(model.ChannelPush)
	n.Status = model.NotificationStatusSent
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	assert.Equal(t, 0, env.push.callCount())
}

func TestProcessRoutesBatchedToWindow(t *testing.T) {
	env := newTestEnv()
	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	b := NewBatcher(BatcherConfig{Window: 15 * time.Minute, Capacity: 5}, env.dispatcher.FlushBatch, nil, lg)
	env.dispatcher.AttachBatcher(b)

	n := newNotification(model.ChannelEmail)
	n.Batched = true
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	assert.Equal(t, 1, b.Buffered())
	assert.Equal(t, 0, env.email.callCount())
	stored := env.repo.get(t, n.ID)
	assert.Equal(t, model.NotificationStatusPending, stored.Status)
}

func TestFlushBatchSendsOneDigest(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var items []*model.Notification
	for i := 0; i < 3; i++ {
		n := newNotification(model.ChannelEmail)
		n.Batched = true
		require.NoError(t, env.repo.Create(ctx, n))
		items = append(items, n)
	}

	env.dispatcher.FlushBatch(ctx, items[0].Recipient, items, FlushTriggerDeadline)

	require.Equal(t, 1, env.email.callCount())
	call := env.email.calls[0]
	assert.Equal(t, "3 medication updates", call.title)
	assert.True(t, strings.Contains(call.body, "Aspirin"))

	for _, it := range items {
		stored := env.repo.get(t, it.ID)
		assert.Equal(t, model.NotificationStatusSent, stored.Status)
		require.Len(t, stored.ChannelsAttempted, 1)
		assert.Equal(t, model.AttemptOutcomeDelivered, stored.ChannelsAttempted[0].Outcome)
	}
}

func TestFlushBatchFailureSchedulesRetryForAll(t *testing.T) {
	env := newTestEnv()
	env.email.err = errors.New("smtp down")
	ctx := context.Background()

	var items []*model.Notification
	for i := 0; i < 2; i++ {
		n := newNotification(model.ChannelEmail)
		n.Batched = true
		require.NoError(t, env.repo.Create(ctx, n))
		items = append(items, n)
	}

	env.dispatcher.FlushBatch(ctx, items[0].Recipient, items, FlushTriggerCapacity)

	for _, it := range items {
		stored := env.repo.get(t, it.ID)
		assert.Equal(t, model.NotificationStatusRetryScheduled, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		require.NotNil(t, stored.NextAttemptAt)
	}
}

func TestFlushBatchSkipsAlreadyTerminalItems(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	done := newNotification(model.ChannelEmail)
	done.Status = model.NotificationStatusCancelled
	require.NoError(t, env.repo.Create(ctx, done))

	live := newNotification(model.ChannelEmail)
	live.Recipient = done.Recipient
	require.NoError(t, env.repo.Create(ctx, live))

	env.dispatcher.FlushBatch(ctx, done.Recipient, []*model.Notification{done, live}, FlushTriggerDeadline)

	require.Equal(t, 1, env.email.callCount())
	assert.Equal(t, "Time to take Aspirin", env.email.calls[0].title)
	assert.Equal(t, model.NotificationStatusCancelled, env.repo.get(t, done.ID).Status)
	assert.Equal(t, model.NotificationStatusSent, env.repo.get(t, live.ID).Status)
}

func TestLimiterRecordsOnlySuccessfulSends(t *testing.T) {
	env := newTestEnv()
	env.push.err = errors.New("push down")
	n := newNotification(model.ChannelPush, model.ChannelEmail)
	require.NoError(t, env.repo.Create(context.Background(), n))

	env.dispatcher.Process(context.Background(), n)

	// Push failed, so its rate window must remain open.
	assert.True(t, env.limiter.Allow(n.Recipient, "push", time.Now()))
	assert.False(t, env.limiter.Allow(n.Recipient, "email", time.Now()))
}
