package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/pkg/messaging"
)

// LiveNotifier fans notifications out on the realtime channel for any
// open client sessions. Delivery here is best-effort: failures are
// never counted against the notification.
type LiveNotifier struct {
	broker messaging.Broker
	topic  string
}

func NewLiveNotifier(broker messaging.Broker, topic string) *LiveNotifier {
	if topic == "" {
		topic = "notifications"
	}
	return &LiveNotifier{broker: broker, topic: topic}
}

type liveEvent struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Type      string        `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Urgency   string        `json:"urgency"`
	Data      model.JSONMap `json:"data,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (l *LiveNotifier) Notify(ctx context.Context, n *model.Notification) error {
	return l.broker.Publish(ctx, l.topic, messaging.Message{
		Type: string(n.Type),
		Payload: liveEvent{
			ID:        n.ID,
			UserID:    n.UserID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Urgency:   string(n.Urgency),
			Data:      n.Data,
			CreatedAt: n.CreatedAt,
		},
	})
}
