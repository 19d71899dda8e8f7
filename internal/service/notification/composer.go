package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/pkg/logger"
)

const defaultMaxRetries = 3

// Data keys carrying resolved per-channel delivery addresses.
const (
	DataKeyEmailAddress = "address_email"
	DataKeyPushAddress  = "address_push"
)

// Event is a domain occurrence the pipeline may notify about.
type Event struct {
	Type         model.EventType
	UserID       uuid.UUID
	CarerID      *uuid.UUID
	MedicationID *uuid.UUID
	Urgency      model.Urgency
	ScheduledFor *time.Time
	Data         model.JSONMap
}

// Enqueuer hands a persisted notification to the dispatch worker.
type Enqueuer interface {
	Enqueue(n *model.Notification)
}

// Composer turns domain events into PENDING notifications with an
// ordered channel list. It never delivers anything itself.
type Composer struct {
	repo       repository.NotificationRepository
	prefs      *PreferenceStore
	templates  *TemplateRegistry
	queue      Enqueuer
	maxRetries int
	logger     *logger.Logger
}

func NewComposer(repo repository.NotificationRepository, prefs *PreferenceStore, templates *TemplateRegistry, queue Enqueuer, maxRetries int, lg *logger.Logger) *Composer {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Composer{
		repo:       repo,
		prefs:      prefs,
		templates:  templates,
		queue:      queue,
		maxRetries: maxRetries,
		logger:     lg,
	}
}

// channelOrder resolves the candidate channel order before preference
// filtering. Urgent notifications always try push then email, whatever
// the per-type table says.
func channelOrder(eventType model.EventType, urgency model.Urgency, pushEnabled bool) []model.Channel {
	if urgency == model.UrgencyUrgent {
		return []model.Channel{model.ChannelPush, model.ChannelEmail}
	}

	switch eventType {
	case model.EventMedicationDue:
		return []model.Channel{model.ChannelPush, model.ChannelEmail}
	case model.EventRefillAlert:
		return []model.Channel{model.ChannelEmail, model.ChannelPush}
	case model.EventComplianceReport:
		return []model.Channel{model.ChannelEmail}
	default:
		if pushEnabled {
			return []model.Channel{model.ChannelPush}
		}
		return []model.Channel{model.ChannelEmail}
	}
}

// Compose builds, persists, and enqueues a PENDING notification for the
// event. It returns nil without error when the user has no usable
// channel for it.
func (c *Composer) Compose(ctx context.Context, evt Event) (*model.Notification, error) {
	if evt.UserID == uuid.Nil {
		return nil, fmt.Errorf("event has no user")
	}
	if evt.Urgency == "" {
		evt.Urgency = model.UrgencyNormal
	}

	usable, err := c.prefs.Channels(ctx, evt.UserID)
	if err != nil {
		return nil, err
	}

	_, pushEnabled := usable[model.ChannelPush]
	candidates := channelOrder(evt.Type, evt.Urgency, pushEnabled)

	channels := make([]model.Channel, 0, len(candidates))
	for _, ch := range candidates {
		if _, ok := usable[ch]; ok {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		c.logger.Debug("no usable channel for event",
			"user_id", evt.UserID.String(), "type", string(evt.Type))
		return nil, nil
	}

	title, message := c.templates.Render(evt.Type, evt.Data)

	data := model.JSONMap{}
	for k, v := range evt.Data {
		data[k] = v
	}
	if p, ok := usable[model.ChannelEmail]; ok {
		data[DataKeyEmailAddress] = p.Address
	}
	if p, ok := usable[model.ChannelPush]; ok {
		data[DataKeyPushAddress] = p.Address
	}

	n := &model.Notification{
		UserID:            evt.UserID,
		CarerID:           evt.CarerID,
		MedicationID:      evt.MedicationID,
		Type:              evt.Type,
		Title:             title,
		Message:           message,
		Data:              data,
		Urgency:           evt.Urgency,
		Recipient:         evt.UserID.String(),
		ChannelsToAttempt: channels,
		Status:            model.NotificationStatusPending,
		MaxRetries:        c.maxRetries,
		ScheduledFor:      evt.ScheduledFor,
		Batched:           c.shouldBatch(ctx, evt, channels),
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	if err := c.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	c.queue.Enqueue(n)
	return n, nil
}

// shouldBatch routes non-urgent email-first traffic, and anything
// landing in the user's quiet hours, through the batch window. Urgent
// notifications always bypass batching.
func (c *Composer) shouldBatch(ctx context.Context, evt Event, channels []model.Channel) bool {
	if evt.Urgency == model.UrgencyUrgent {
		return false
	}
	hasEmail := false
	for _, ch := range channels {
		if ch == model.ChannelEmail {
			hasEmail = true
		}
	}
	if !hasEmail {
		return false
	}
	if channels[0] == model.ChannelEmail {
		return true
	}

	qh, err := c.prefs.QuietHours(ctx, evt.UserID)
	if err != nil {
		c.logger.Error(err, "failed to load quiet hours", "user_id", evt.UserID.String())
		return false
	}
	return InQuietHours(qh, time.Now())
}
