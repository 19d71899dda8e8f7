package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
)

type preferenceRepository struct {
	*BaseRepository
}

func NewPreferenceRepository(base *BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{
		BaseRepository: base,
	}
}

func (r *preferenceRepository) ListChannels(ctx context.Context, userID uuid.UUID) ([]*model.ChannelPreference, error) {
	query := `
		SELECT user_id, channel, address, enabled, verified
		FROM user_channel_preferences
		WHERE user_id = $1
	`

	var prefs []*model.ChannelPreference
	err := r.db.SelectContext(ctx, &prefs, query, userID)
	r.record("preference_list_channels", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel preferences: %w", err)
	}
	return prefs, nil
}

func (r *preferenceRepository) GetQuietHours(ctx context.Context, userID uuid.UUID) (*model.QuietHours, error) {
	query := `
		SELECT user_id, enabled, quiet_start, quiet_end, timezone
		FROM user_quiet_hours
		WHERE user_id = $1
	`

	var qh model.QuietHours
	err := r.db.GetContext(ctx, &qh, query, userID)
	if err == sql.ErrNoRows {
		r.record("preference_get_quiet_hours", nil)
		return &model.QuietHours{UserID: userID, Enabled: false}, nil
	}
	r.record("preference_get_quiet_hours", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet hours: %w", err)
	}
	return &qh, nil
}
