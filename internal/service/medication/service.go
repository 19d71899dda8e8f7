package medication

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/internal/service/interaction"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/internal/service/schedule"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
)

// Composer is the slice of the notification composer this service needs.
type Composer interface {
	Compose(ctx context.Context, evt notification.Event) (*model.Notification, error)
}

// Service covers dose recording and the schedule-changing operations
// that affect pending reminders.
type Service interface {
	RecordDoseTaken(ctx context.Context, medicationID uuid.UUID, takenAt time.Time) (*model.Medication, error)
	MedicationChanged(ctx context.Context, medicationID uuid.UUID) (int64, error)
	CheckInteractions(ctx context.Context, medicationID uuid.UUID) ([]model.Conflict, error)
}

type service struct {
	meds          repository.MedicationRepository
	notifications repository.NotificationRepository
	scheduler     *schedule.Service
	checker       *interaction.Service
	lookup        interaction.Lookup
	composer      Composer
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

func NewService(
	meds repository.MedicationRepository,
	notifications repository.NotificationRepository,
	scheduler *schedule.Service,
	checker *interaction.Service,
	lookup interaction.Lookup,
	composer Composer,
	m *metrics.Metrics,
	lg *logger.Logger,
) Service {
	return &service{
		meds:          meds,
		notifications: notifications,
		scheduler:     scheduler,
		checker:       checker,
		lookup:        lookup,
		composer:      composer,
		metrics:       m,
		logger:        lg,
	}
}

// RecordDoseTaken logs a dose against the medication, enforcing PRN
// spacing and the daily cap before mutating any state.
func (s *service) RecordDoseTaken(ctx context.Context, medicationID uuid.UUID, takenAt time.Time) (*model.Medication, error) {
	med, err := s.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	if med.Status != model.MedicationStatusActive {
		return nil, apperrors.NewValidation("medication is not active", nil)
	}

	if med.IsPRN {
		if next := s.scheduler.NextAllowedAt(med); !next.IsZero() && takenAt.Before(next) {
			return nil, apperrors.NewValidation(
				fmt.Sprintf("minimum spacing not met, next dose allowed at %s", next.Format(time.RFC3339)), nil)
		}
	}
	if s.scheduler.DailyLimitReached(med, takenAt) {
		return nil, apperrors.NewValidation("daily dose limit reached", nil)
	}

	s.rollDailyCount(med, takenAt)
	med.DailyDosesTaken++
	taken := takenAt
	med.LastTaken = &taken
	if med.RemainingDoses != nil && *med.RemainingDoses > 0 {
		remaining := *med.RemainingDoses - 1
		med.RemainingDoses = &remaining
	}

	if err := s.meds.Update(ctx, med); err != nil {
		return nil, fmt.Errorf("failed to record dose: %w", err)
	}

	s.logger.Info("dose recorded",
		"medication_id", med.ID.String(), "taken_at", takenAt, "daily_count", med.DailyDosesTaken)
	return med, nil
}

// rollDailyCount resets the counter when the dose lands on a new local
// calendar day.
func (s *service) rollDailyCount(med *model.Medication, takenAt time.Time) {
	loc, err := med.Location()
	if err != nil {
		loc = time.UTC
	}
	prevY, prevM, prevD := med.DailyDosesResetAt.In(loc).Date()
	curY, curM, curD := takenAt.In(loc).Date()
	if prevY != curY || prevM != curM || prevD != curD {
		med.DailyDosesTaken = 0
		med.DailyDosesResetAt = takenAt
	}
}

// MedicationChanged invalidates reminders composed under the old
// schedule. It returns the number of notifications cancelled.
func (s *service) MedicationChanged(ctx context.Context, medicationID uuid.UUID) (int64, error) {
	cancelled, err := s.notifications.CancelPendingForMedication(ctx, medicationID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending reminders: %w", err)
	}

	if cancelled > 0 {
		if s.metrics != nil {
			s.metrics.NotificationsCancelled.Add(float64(cancelled))
		}
		s.logger.Info("cancelled pending reminders after medication change",
			"medication_id", medicationID.String(), "count", cancelled)
	}
	return cancelled, nil
}

// CheckInteractions compares the medication's dose times against every
// other medication the user takes. Conflicts produce warning
// notifications but never block the medication itself.
func (s *service) CheckInteractions(ctx context.Context, medicationID uuid.UUID) ([]model.Conflict, error) {
	med, err := s.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, err
	}

	others, err := s.meds.ListByUser(ctx, med.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user medications: %w", err)
	}

	now := time.Now()
	var all []model.Conflict
	for _, other := range others {
		if other.ID == med.ID || other.Status != model.MedicationStatusActive {
			continue
		}

		severity, known, err := s.lookup.Severity(ctx, med.Name, other.Name)
		if err != nil {
			s.logger.Error(err, "interaction lookup failed",
				"drug_a", med.Name, "drug_b", other.Name)
			continue
		}
		if !known {
			continue
		}

		conflicts := s.checker.CheckConflicts(
			s.doseSchedule(med, now), s.doseSchedule(other, now), severity, now)
		if len(conflicts) == 0 {
			continue
		}
		all = append(all, conflicts...)
		s.warnInteraction(ctx, med, other, conflicts[0])
	}
	return all, nil
}

// doseSchedule normalizes a medication to the checker's schedule shape.
// PRN medications with a spacing floor become interval schedules; fixed
// plans flatten to concrete dose instants over the horizon.
func (s *service) doseSchedule(med *model.Medication, now time.Time) interaction.DoseSchedule {
	if med.IsPRN {
		if med.MinHoursBetweenDose == nil || *med.MinHoursBetweenDose <= 0 {
			return interaction.DoseSchedule{Kind: interaction.ScheduleFixed}
		}
		anchor := now
		if med.LastTaken != nil {
			anchor = *med.LastTaken
		}
		return interaction.DoseSchedule{
			Kind:   interaction.ScheduleInterval,
			Anchor: anchor,
			Every:  time.Duration(*med.MinHoursBetweenDose * float64(time.Hour)),
		}
	}

	doses, err := s.scheduler.DueDoses(med, now, now.Add(48*time.Hour), now)
	if err != nil {
		s.logger.Warn("skipping unusable schedule in interaction check",
			"medication_id", med.ID.String(), "error", err.Error())
		return interaction.DoseSchedule{Kind: interaction.ScheduleFixed}
	}

	times := make([]time.Time, 0, len(doses))
	for _, d := range doses {
		times = append(times, d.ScheduledTime)
	}
	return interaction.DoseSchedule{Kind: interaction.ScheduleFixed, Times: times}
}

func (s *service) warnInteraction(ctx context.Context, med, other *model.Medication, worst model.Conflict) {
	evt := notification.Event{
		Type:         model.EventInteractionWarning,
		UserID:       med.UserID,
		MedicationID: &med.ID,
		Urgency:      warningUrgency(worst.Severity),
		Data: model.JSONMap{
			"medication_a":   med.Name,
			"medication_b":   other.Name,
			"severity":       string(worst.Severity),
			"recommendation": worst.Recommendation,
		},
	}
	if _, err := s.composer.Compose(ctx, evt); err != nil {
		s.logger.Error(err, "failed to compose interaction warning",
			"medication_id", med.ID.String())
	}
}

func warningUrgency(severity model.Severity) model.Urgency {
	if severity == model.SeveritySevere {
		return model.UrgencyUrgent
	}
	return model.UrgencyNormal
}
