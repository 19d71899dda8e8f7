package medication

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/service/interaction"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/internal/service/schedule"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
	"github.com/meditrack/reminder-api/pkg/logger"
)

type fakeMedRepo struct {
	store map[uuid.UUID]*model.Medication
}

func newFakeMedRepo(meds ...*model.Medication) *fakeMedRepo {
	r := &fakeMedRepo{store: make(map[uuid.UUID]*model.Medication)}
	for _, m := range meds {
		r.store[m.ID] = m
	}
	return r
}

func (r *fakeMedRepo) Get(_ context.Context, id uuid.UUID) (*model.Medication, error) {
	m, ok := r.store[id]
	if !ok {
		return nil, apperrors.NewNotFound("medication not found", nil)
	}
	return m, nil
}

func (r *fakeMedRepo) Update(_ context.Context, med *model.Medication) error {
	r.store[med.ID] = med
	return nil
}

func (r *fakeMedRepo) ListActive(context.Context, time.Time) ([]*model.Medication, error) {
	return nil, nil
}

func (r *fakeMedRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Medication, error) {
	var out []*model.Medication
	for _, m := range r.store {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeNotifRepo struct {
	cancelReturn int64
	cancelledFor []uuid.UUID
}

func (r *fakeNotifRepo) Create(context.Context, *model.Notification) error { return nil }
func (r *fakeNotifRepo) Update(context.Context, *model.Notification) error { return nil }

func (r *fakeNotifRepo) Get(context.Context, uuid.UUID) (*model.Notification, error) {
	return nil, apperrors.NewNotFound("notification not found", nil)
}

func (r *fakeNotifRepo) List(context.Context, *model.NotificationFilters) ([]*model.Notification, error) {
	return nil, nil
}

func (r *fakeNotifRepo) ListRetryDue(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (r *fakeNotifRepo) ListPendingBefore(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (r *fakeNotifRepo) HasReminder(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (r *fakeNotifRepo) CancelPendingForMedication(_ context.Context, medicationID uuid.UUID) (int64, error) {
	r.cancelledFor = append(r.cancelledFor, medicationID)
	return r.cancelReturn, nil
}

func (r *fakeNotifRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeComposer struct {
	events []notification.Event
}

func (c *fakeComposer) Compose(_ context.Context, evt notification.Event) (*model.Notification, error) {
	c.events = append(c.events, evt)
	return &model.Notification{}, nil
}

func activeMedication(name string, doseTimes ...string) *model.Medication {
	m := &model.Medication{
		UserID: uuid.New(),
		Name:   name,
		Schedule: model.Schedule{
			StartDate: time.Now().AddDate(0, 0, -7),
			DoseTimes: doseTimes,
			Timezone:  "UTC",
		},
		Status: model.MedicationStatusActive,
	}
	m.ID = uuid.New()
	return m
}

func newTestService(meds *fakeMedRepo, notifs *fakeNotifRepo, lookup interaction.Lookup, composer *fakeComposer) Service {
	if lookup == nil {
		lookup = interaction.NewStaticLookup(nil)
	}
	lg := logger.NewLogger(&logger.Config{Output: io.Discard})
	return NewService(meds, notifs, schedule.NewService(),
		interaction.NewService(nil, 0), lookup, composer, nil, lg)
}

func TestRecordDoseTakenUpdatesState(t *testing.T) {
	med := activeMedication("Aspirin", "09:00")
	remaining := 10
	med.RemainingDoses = &remaining
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	takenAt := time.Now()
	got, err := svc.RecordDoseTaken(context.Background(), med.ID, takenAt)
	require.NoError(t, err)

	require.NotNil(t, got.LastTaken)
	assert.True(t, got.LastTaken.Equal(takenAt))
	assert.Equal(t, 1, got.DailyDosesTaken)
	require.NotNil(t, got.RemainingDoses)
	assert.Equal(t, 9, *got.RemainingDoses)
}

func TestRecordDoseTakenEnforcesPRNSpacing(t *testing.T) {
	med := activeMedication("Painkiller")
	med.IsPRN = true
	minHours := 4.0
	med.MinHoursBetweenDose = &minHours
	last := time.Now().Add(-time.Hour)
	med.LastTaken = &last
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	_, err := svc.RecordDoseTaken(context.Background(), med.ID, time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRecordDoseTakenAllowsPRNAfterSpacing(t *testing.T) {
	med := activeMedication("Painkiller")
	med.IsPRN = true
	minHours := 4.0
	med.MinHoursBetweenDose = &minHours
	last := time.Now().Add(-5 * time.Hour)
	med.LastTaken = &last
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	_, err := svc.RecordDoseTaken(context.Background(), med.ID, time.Now())
	assert.NoError(t, err)
}

func TestRecordDoseTakenEnforcesDailyCap(t *testing.T) {
	med := activeMedication("Painkiller")
	maxDaily := 2
	med.MaxDailyDoses = &maxDaily
	med.DailyDosesTaken = 2
	med.DailyDosesResetAt = time.Now()
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	_, err := svc.RecordDoseTaken(context.Background(), med.ID, time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRecordDoseTakenResetsCountOnNewDay(t *testing.T) {
	med := activeMedication("Painkiller")
	maxDaily := 2
	med.MaxDailyDoses = &maxDaily
	med.DailyDosesTaken = 2
	med.DailyDosesResetAt = time.Now().AddDate(0, 0, -1)
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	got, err := svc.RecordDoseTaken(context.Background(), med.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyDosesTaken)
}

func TestRecordDoseTakenRejectsInactiveMedication(t *testing.T) {
	med := activeMedication("Aspirin", "09:00")
	med.Status = model.MedicationStatusPaused
	repo := newFakeMedRepo(med)
	svc := newTestService(repo, &fakeNotifRepo{}, nil, &fakeComposer{})

	_, err := svc.RecordDoseTaken(context.Background(), med.ID, time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMedicationChangedCancelsPendingReminders(t *testing.T) {
	med := activeMedication("Aspirin", "09:00")
	notifs := &fakeNotifRepo{cancelReturn: 3}
	svc := newTestService(newFakeMedRepo(med), notifs, nil, &fakeComposer{})

	cancelled, err := svc.MedicationChanged(context.Background(), med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cancelled)
	require.Len(t, notifs.cancelledFor, 1)
	assert.Equal(t, med.ID, notifs.cancelledFor[0])
}

func TestCheckInteractionsWarnsOnCloseDoses(t *testing.T) {
	a := activeMedication("Warfarin", "09:00")
	b := activeMedication("Aspirin", "10:00")
	b.UserID = a.UserID
	repo := newFakeMedRepo(a, b)

	lookup := interaction.NewStaticLookup([]model.InteractionRule{
		{DrugPairKey: interaction.PairKey("Warfarin", "Aspirin"), Severity: model.SeveritySevere},
	})
	composer := &fakeComposer{}
	svc := newTestService(repo, &fakeNotifRepo{}, lookup, composer)

	conflicts, err := svc.CheckInteractions(context.Background(), a.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, conflicts)

	require.Len(t, composer.events, 1)
	evt := composer.events[0]
	assert.Equal(t, model.EventInteractionWarning, evt.Type)
	assert.Equal(t, model.UrgencyUrgent, evt.Urgency)
	assert.Equal(t, "Warfarin", evt.Data["medication_a"])
	assert.Equal(t, "Aspirin", evt.Data["medication_b"])
	assert.NotEmpty(t, evt.Data["recommendation"])
}

func TestCheckInteractionsIgnoresUnknownPairs(t *testing.T) {
	a := activeMedication("Warfarin", "09:00")
	b := activeMedication("VitaminC", "09:30")
	b.UserID = a.UserID
	repo := newFakeMedRepo(a, b)
	composer := &fakeComposer{}
	svc := newTestService(repo, &fakeNotifRepo{}, nil, composer)

	conflicts, err := svc.CheckInteractions(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Empty(t, composer.events)
}

func TestCheckInteractionsSkipsInactiveMedications(t *testing.T) {
	a := activeMedication("Warfarin", "09:00")
	b := activeMedication("Aspirin", "10:00")
	b.UserID = a.UserID
	b.Status = model.MedicationStatusDiscontinued
	repo := newFakeMedRepo(a, b)

	lookup := interaction.NewStaticLookup([]model.InteractionRule{
		{DrugPairKey: interaction.PairKey("Warfarin", "Aspirin"), Severity: model.SeveritySevere},
	})
	composer := &fakeComposer{}
	svc := newTestService(repo, &fakeNotifRepo{}, lookup, composer)

	conflicts, err := svc.CheckInteractions(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Empty(t, composer.events)
}
