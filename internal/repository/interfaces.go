package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
)

// All repository interfaces in one file
type (
	// MedicationRepository reads schedules and writes dose-taken state.
	// Schema management lives outside this service.
	MedicationRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Medication, error)
		Update(ctx context.Context, med *model.Medication) error
		ListActive(ctx context.Context, window time.Time) ([]*model.Medication, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Medication, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Update(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, filters *model.NotificationFilters) ([]*model.Notification, error)
		ListRetryDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
		ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Notification, error)
		HasReminder(ctx context.Context, medicationID uuid.UUID, scheduledFor time.Time) (bool, error)
		CancelPendingForMedication(ctx context.Context, medicationID uuid.UUID) (int64, error)
		DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	PreferenceRepository interface {
		ListChannels(ctx context.Context, userID uuid.UUID) ([]*model.ChannelPreference, error)
		GetQuietHours(ctx context.Context, userID uuid.UUID) (*model.QuietHours, error)
	}
)
