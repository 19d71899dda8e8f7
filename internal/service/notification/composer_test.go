package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/pkg/logger"
)

type fakeNotificationRepo struct {
	created []*model.Notification
	updated []*model.Notification
}

func (f *fakeNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationRepo) Update(_ context.Context, n *model.Notification) error {
	f.updated = append(f.updated, n)
	return nil
}

func (f *fakeNotificationRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	for _, n := range f.created {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, nil
}

func (f *fakeNotificationRepo) List(context.Context, *model.NotificationFilters) ([]*model.Notification, error) {
	return f.created, nil
}

func (f *fakeNotificationRepo) ListRetryDue(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) ListPendingBefore(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) HasReminder(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeNotificationRepo) CancelPendingForMedication(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeNotificationRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakePreferenceRepo struct {
	channels []*model.ChannelPreference
	quiet    *model.QuietHours
}

func (f *fakePreferenceRepo) ListChannels(context.Context, uuid.UUID) ([]*model.ChannelPreference, error) {
	return f.channels, nil
}

func (f *fakePreferenceRepo) GetQuietHours(_ context.Context, userID uuid.UUID) (*model.QuietHours, error) {
	if f.quiet != nil {
		return f.quiet, nil
	}
	return &model.QuietHours{UserID: userID}, nil
}

type fakeQueue struct {
	items []*model.Notification
}

func (f *fakeQueue) Enqueue(n *model.Notification) {
	f.items = append(f.items, n)
}

func allChannels(userID uuid.UUID) []*model.ChannelPreference {
	return []*model.ChannelPreference{
		{UserID: userID, Channel: model.ChannelPush, Address: "device-token", Enabled: true, Verified: true},
		{UserID: userID, Channel: model.ChannelEmail, Address: "user@example.com", Enabled: true, Verified: true},
	}
}

func newTestComposer(prefRepo *fakePreferenceRepo) (*Composer, *fakeNotificationRepo, *fakeQueue) {
	repo := &fakeNotificationRepo{}
	queue := &fakeQueue{}
	prefs := NewPreferenceStore(prefRepo, time.Minute)
	c := NewComposer(repo, prefs, NewTemplateRegistry(), queue, 3, logger.NewLogger(nil))
	return c, repo, queue
}

func TestCompose_UrgentAlwaysPushThenEmail(t *testing.T) {
	userID := uuid.New()
	c, repo, queue := newTestComposer(&fakePreferenceRepo{channels: allChannels(userID)})

	// compliance_report normally goes email-only; urgency wins.
	n, err := c.Compose(context.Background(), Event{
		Type:    model.EventComplianceReport,
		UserID:  userID,
		Urgency: model.UrgencyUrgent,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.Equal(t, []model.Channel{model.ChannelPush, model.ChannelEmail}, n.ChannelsToAttempt)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.False(t, n.Batched)
	require.Len(t, repo.created, 1)
	require.Len(t, queue.items, 1)
}

func TestCompose_PerTypeChannelOrder(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		eventType model.EventType
		want      []model.Channel
	}{
		{model.EventMedicationDue, []model.Channel{model.ChannelPush, model.ChannelEmail}},
		{model.EventRefillAlert, []model.Channel{model.ChannelEmail, model.ChannelPush}},
		{model.EventComplianceReport, []model.Channel{model.ChannelEmail}},
		{model.EventCarerAssignment, []model.Channel{model.ChannelPush}},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			c, _, _ := newTestComposer(&fakePreferenceRepo{channels: allChannels(userID)})
			n, err := c.Compose(context.Background(), Event{Type: tt.eventType, UserID: userID})
			require.NoError(t, err)
			require.NotNil(t, n)
			assert.Equal(t, tt.want, n.ChannelsToAttempt)
		})
	}
}

func TestCompose_FiltersUnverifiedChannels(t *testing.T) {
	userID := uuid.New()
	prefRepo := &fakePreferenceRepo{channels: []*model.ChannelPreference{
		{UserID: userID, Channel: model.ChannelPush, Address: "tok", Enabled: true, Verified: false},
		{UserID: userID, Channel: model.ChannelEmail, Address: "user@example.com", Enabled: true, Verified: true},
	}}
	c, _, _ := newTestComposer(prefRepo)

	n, err := c.Compose(context.Background(), Event{Type: model.EventMedicationDue, UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, []model.Channel{model.ChannelEmail}, n.ChannelsToAttempt)
}

func TestCompose_NoUsableChannels(t *testing.T) {
	userID := uuid.New()
	prefRepo := &fakePreferenceRepo{channels: []*model.ChannelPreference{
		{UserID: userID, Channel: model.ChannelPush, Address: "tok", Enabled: false, Verified: true},
	}}
	c, repo, queue := newTestComposer(prefRepo)

	n, err := c.Compose(context.Background(), Event{Type: model.EventMedicationDue, UserID: userID})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, repo.created)
	assert.Empty(t, queue.items)
}

func TestCompose_EmailFirstTrafficIsBatched(t *testing.T) {
	userID := uuid.New()
	c, _, _ := newTestComposer(&fakePreferenceRepo{channels: allChannels(userID)})

	n, err := c.Compose(context.Background(), Event{Type: model.EventRefillAlert, UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.Batched)
}

func TestCompose_ResolvesAddressesIntoData(t *testing.T) {
	userID := uuid.New()
	c, _, _ := newTestComposer(&fakePreferenceRepo{channels: allChannels(userID)})

	n, err := c.Compose(context.Background(), Event{Type: model.EventMedicationDue, UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "user@example.com", n.Data[DataKeyEmailAddress])
	assert.Equal(t, "device-token", n.Data[DataKeyPushAddress])
}

func TestCompose_TemplateRendering(t *testing.T) {
	userID := uuid.New()
	c, _, _ := newTestComposer(&fakePreferenceRepo{channels: allChannels(userID)})

	n, err := c.Compose(context.Background(), Event{
		Type:   model.EventMedicationDue,
		UserID: userID,
		Data: model.JSONMap{
			"medication_name": "Lisinopril",
			"dosage":          "10 mg",
			"scheduled_time":  "09:00",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "Time to take Lisinopril", n.Title)
	assert.Contains(t, n.Message, "Lisinopril")
	assert.Contains(t, n.Message, "09:00")
}

func TestRenderDigest_GroupsByType(t *testing.T) {
	reg := NewTemplateRegistry()

	items := []*model.Notification{
		{Type: model.EventMedicationDue, Title: "Time to take A", Message: "A is due"},
		{Type: model.EventMedicationDue, Title: "Time to take B", Message: "B is due"},
		{Type: model.EventRefillAlert, Title: "Refill needed: C", Message: "C is low"},
	}

	subject, body := reg.RenderDigest(items)
	assert.Equal(t, "3 medication updates", subject)
	assert.Contains(t, body, "Time to take A")
	assert.Contains(t, body, "Time to take B")
	assert.Contains(t, body, "Refill needed: C")
}

func TestInQuietHours(t *testing.T) {
	qh := &model.QuietHours{Enabled: true, StartHHMM: "22:00", EndHHMM: "07:00", Timezone: "UTC"}

	assert.True(t, InQuietHours(qh, time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)))
	assert.True(t, InQuietHours(qh, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(qh, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	qh.Enabled = false
	assert.False(t, InQuietHours(qh, time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)))
}
