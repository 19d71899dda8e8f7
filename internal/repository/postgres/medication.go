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

type medicationRepository struct {
	*BaseRepository
}

func NewMedicationRepository(base *BaseRepository) repository.MedicationRepository {
	return &medicationRepository{
		BaseRepository: base,
	}
}

type medicationRow struct {
	ID                  uuid.UUID       `db:"id"`
	UserID              uuid.UUID       `db:"user_id"`
	Name                string          `db:"name"`
	DosageAmount        float64         `db:"dosage_amount"`
	DosageUnit          string          `db:"dosage_unit"`
	DosageFrequency     string          `db:"dosage_frequency"`
	DosageTimesPerDay   int             `db:"dosage_times_per_day"`
	StartDate           time.Time       `db:"start_date"`
	EndDate             *time.Time      `db:"end_date"`
	DoseTimes           json.RawMessage `db:"dose_times"`
	ReminderLeadMinutes int             `db:"reminder_lead_minutes"`
	Timezone            string          `db:"timezone"`
	Status              string          `db:"status"`
	IsPRN               bool            `db:"is_prn"`
	MinHoursBetweenDose *float64        `db:"min_hours_between_doses"`
	MaxDailyDoses       *int            `db:"max_daily_doses"`
	RemainingDoses      *int            `db:"remaining_doses"`
	LastTaken           *time.Time      `db:"last_taken"`
	DailyDosesTaken     int             `db:"daily_doses_taken"`
	DailyDosesResetAt   time.Time       `db:"daily_doses_reset_at"`
	CarerID             *uuid.UUID      `db:"carer_id"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r *medicationRow) toModel() (*model.Medication, error) {
	m := &model.Medication{
		UserID: r.UserID,
		Name:   r.Name,
		Dosage: model.Dosage{
			Amount:      r.DosageAmount,
			Unit:        r.DosageUnit,
			Frequency:   r.DosageFrequency,
			TimesPerDay: r.DosageTimesPerDay,
		},
		Schedule: model.Schedule{
			StartDate:           r.StartDate,
			EndDate:             r.EndDate,
			ReminderLeadMinutes: r.ReminderLeadMinutes,
			Timezone:            r.Timezone,
		},
		Status:              model.MedicationStatus(r.Status),
		IsPRN:               r.IsPRN,
		MinHoursBetweenDose: r.MinHoursBetweenDose,
		MaxDailyDoses:       r.MaxDailyDoses,
		RemainingDoses:      r.RemainingDoses,
		LastTaken:           r.LastTaken,
		DailyDosesTaken:     r.DailyDosesTaken,
		DailyDosesResetAt:   r.DailyDosesResetAt,
		CarerID:             r.CarerID,
	}
	m.ID = r.ID
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt

	if len(r.DoseTimes) > 0 {
		if err := json.Unmarshal(r.DoseTimes, &m.Schedule.DoseTimes); err != nil {
			return nil, fmt.Errorf("unmarshal dose times: %w", err)
		}
	}
	return m, nil
}

func (r *medicationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Medication, error) {
	query := `SELECT * FROM medications WHERE id = $1`

	var row medicationRow
	err := r.db.GetContext(ctx, &row, query, id)
	r.record("medication_get", err)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("medication %s not found", id)
		}
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return row.toModel()
}

func (r *medicationRepository) Update(ctx context.Context, med *model.Medication) error {
	doseTimes, err := json.Marshal(med.Schedule.DoseTimes)
	if err != nil {
		return fmt.Errorf("marshal dose times: %w", err)
	}

	query := `
		UPDATE medications SET
			name = $1,
			dose_times = $2,
			reminder_lead_minutes = $3,
			status = $4,
			remaining_doses = $5,
			last_taken = $6,
			daily_doses_taken = $7,
			daily_doses_reset_at = $8,
			updated_at = NOW()
		WHERE id = $9
	`
	_, err = r.db.ExecContext(ctx, query,
		med.Name,
		doseTimes,
		med.Schedule.ReminderLeadMinutes,
		string(med.Status),
		med.RemainingDoses,
		med.LastTaken,
		med.DailyDosesTaken,
		med.DailyDosesResetAt,
		med.ID,
	)
	r.record("medication_update", err)
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}
	return nil
}

// ListActive returns medications whose schedule is open at the given
// instant, the working set for the reminder sweep.
func (r *medicationRepository) ListActive(ctx context.Context, window time.Time) ([]*model.Medication, error) {
	query := `
		SELECT * FROM medications
		WHERE status = $1
		AND start_date <= $2
		AND (end_date IS NULL OR end_date >= $2)
	`

	var rows []medicationRow
	err := r.db.SelectContext(ctx, &rows, query, string(model.MedicationStatusActive), window)
	r.record("medication_list_active", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list active medications: %w", err)
	}

	result := make([]*model.Medication, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

func (r *medicationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Medication, error) {
	query := `SELECT * FROM medications WHERE user_id = $1 AND status = $2`

	var rows []medicationRow
	err := r.db.SelectContext(ctx, &rows, query, userID, string(model.MedicationStatusActive))
	r.record("medication_list_by_user", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}

	result := make([]*model.Medication, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}
