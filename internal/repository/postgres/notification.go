package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
)

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{
		BaseRepository: base,
	}
}

// notificationRow mirrors the notifications table; the channel lists and
// the attempt audit trail live in JSONB columns.
type notificationRow struct {
	ID                uuid.UUID       `db:"id"`
	UserID            uuid.UUID       `db:"user_id"`
	CarerID           *uuid.UUID      `db:"carer_id"`
	MedicationID      *uuid.UUID      `db:"medication_id"`
	Type              string          `db:"type"`
	Title             string          `db:"title"`
	Message           string          `db:"message"`
	Data              json.RawMessage `db:"data"`
	Urgency           string          `db:"urgency"`
	Recipient         string          `db:"recipient"`
	ChannelsToAttempt json.RawMessage `db:"channels_to_attempt"`
	ChannelsAttempted json.RawMessage `db:"channels_attempted"`
	Status            string          `db:"status"`
	RetryCount        int             `db:"retry_count"`
	MaxRetries        int             `db:"max_retries"`
	NextAttemptAt     *time.Time      `db:"next_attempt_at"`
	ScheduledFor      *time.Time      `db:"scheduled_for"`
	Batched           bool            `db:"batched"`
	SentAt            *time.Time      `db:"sent_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func toRow(n *model.Notification) (*notificationRow, error) {
	channels, err := json.Marshal(n.ChannelsToAttempt)
	if err != nil {
		return nil, fmt.Errorf("marshal channels: %w", err)
	}
	attempts, err := n.MarshalAttempts()
	if err != nil {
		return nil, fmt.Errorf("marshal attempts: %w", err)
	}
	var data json.RawMessage = []byte("{}")
	if n.Data != nil {
		if data, err = json.Marshal(n.Data); err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
	}
	return &notificationRow{
		ID:                n.ID,
		UserID:            n.UserID,
		CarerID:           n.CarerID,
		MedicationID:      n.MedicationID,
		Type:              string(n.Type),
		Title:             n.Title,
		Message:           n.Message,
		Data:              data,
		Urgency:           string(n.Urgency),
		Recipient:         n.Recipient,
		ChannelsToAttempt: channels,
		ChannelsAttempted: attempts,
		Status:            string(n.Status),
		RetryCount:        n.RetryCount,
		MaxRetries:        n.MaxRetries,
		NextAttemptAt:     n.NextAttemptAt,
		ScheduledFor:      n.ScheduledFor,
		Batched:           n.Batched,
		SentAt:            n.SentAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}, nil
}

func (r *notificationRow) toModel() (*model.Notification, error) {
	n := &model.Notification{
		UserID:        r.UserID,
		CarerID:       r.CarerID,
		MedicationID:  r.MedicationID,
		Type:          model.EventType(r.Type),
		Title:         r.Title,
		Message:       r.Message,
		Urgency:       model.Urgency(r.Urgency),
		Recipient:     r.Recipient,
		Status:        model.NotificationStatus(r.Status),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		NextAttemptAt: r.NextAttemptAt,
		ScheduledFor:  r.ScheduledFor,
		Batched:       r.Batched,
		SentAt:        r.SentAt,
	}
	n.ID = r.ID
	n.CreatedAt = r.CreatedAt
	n.UpdatedAt = r.UpdatedAt

	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if len(r.ChannelsToAttempt) > 0 {
		if err := json.Unmarshal(r.ChannelsToAttempt, &n.ChannelsToAttempt); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
	}
	if len(r.ChannelsAttempted) > 0 {
		if err := json.Unmarshal(r.ChannelsAttempted, &n.ChannelsAttempted); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return n, nil
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	row, err := toRow(n)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (
			id, user_id, carer_id, medication_id, type, title, message, data,
			urgency, recipient, channels_to_attempt, channels_attempted,
			status, retry_count, max_retries, next_attempt_at, scheduled_for,
			batched, sent_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :carer_id, :medication_id, :type, :title, :message, :data,
			:urgency, :recipient, :channels_to_attempt, :channels_attempted,
			:status, :retry_count, :max_retries, :next_attempt_at, :scheduled_for,
			:batched, :sent_at, :created_at, :updated_at
		)
	`
	_, err = r.db.NamedExecContext(ctx, query, row)
	r.record("notification_create", err)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	n.UpdatedAt = time.Now()
	row, err := toRow(n)
	if err != nil {
		return err
	}

	query := `
		UPDATE notifications SET
			channels_attempted = :channels_attempted,
			status = :status,
			retry_count = :retry_count,
			next_attempt_at = :next_attempt_at,
			sent_at = :sent_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err = r.db.NamedExecContext(ctx, query, row)
	r.record("notification_update", err)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT * FROM notifications WHERE id = $1`

	var row notificationRow
	err := r.db.GetContext(ctx, &row, query, id)
	r.record("notification_get", err)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("notification %s not found", id)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return row.toModel()
}

func (r *notificationRepository) List(ctx context.Context, filters *model.NotificationFilters) ([]*model.Notification, error) {
	query := `SELECT * FROM notifications WHERE 1=1`
	args := map[string]interface{}{}

	if filters.UserID != uuid.Nil {
		query += ` AND user_id = :user_id`
		args["user_id"] = filters.UserID
	}
	if filters.Type != "" {
		query += ` AND type = :type`
		args["type"] = string(filters.Type)
	}
	if filters.Status != "" {
		query += ` AND status = :status`
		args["status"] = string(filters.Status)
	}
	if !filters.StartDate.IsZero() {
		query += ` AND created_at >= :start_date`
		args["start_date"] = filters.StartDate
	}
	if !filters.EndDate.IsZero() {
		query += ` AND created_at < :end_date`
		args["end_date"] = filters.EndDate
	}

	query += ` ORDER BY created_at DESC`

	limit := filters.PageSize
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := 0
	if filters.Page > 1 {
		offset = (filters.Page - 1) * limit
	}
	query += ` LIMIT :limit OFFSET :offset`
	args["limit"] = limit
	args["offset"] = offset

	rows, err := r.db.NamedQueryContext(ctx, query, args)
	r.record("notification_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var result []*model.Notification
	for rows.Next() {
		var row notificationRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n, err := row.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) ListRetryDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`

	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows, query, string(model.NotificationStatusRetryScheduled), now, limit)
	r.record("notification_list_retry_due", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}

	result := make([]*model.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, nil
}

func (r *notificationRepository) HasReminder(ctx context.Context, medicationID uuid.UUID, scheduledFor time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE medication_id = $1 AND type = $2 AND scheduled_for = $3
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, medicationID, string(model.EventMedicationDue), scheduledFor)
	r.record("notification_has_reminder", err)
	if err != nil {
		return false, fmt.Errorf("failed to check reminder: %w", err)
	}
	return exists, nil
}

// ListPendingBefore returns PENDING rows untouched since cutoff. A
// pending notification normally lives in a process's dispatch queue or
// an open batch window; one older than the batch window was stranded by
// a crash and needs re-dispatch.
func (r *notificationRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows, query, string(model.NotificationStatusPending), cutoff, limit)
	r.record("notification_list_pending", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded pending notifications: %w", err)
	}

	result := make([]*model.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, nil
}

// CancelPendingForMedication invalidates reminders that have not started
// dispatching. A notification already DISPATCHING completes its attempt.
func (r *notificationRepository) CancelPendingForMedication(ctx context.Context, medicationID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE medication_id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(model.NotificationStatusCancelled),
		medicationID,
		string(model.NotificationStatusPending),
		string(model.NotificationStatusRetryScheduled),
	)
	r.record("notification_cancel_pending", err)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel notifications: %w", err)
	}
	return result.RowsAffected()
}

func (r *notificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	r.record("notification_delete_old", err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return result.RowsAffected()
}
