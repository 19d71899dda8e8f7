package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/internal/service/schedule"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
)

// Composer is the slice of the notification composer the sweep needs.
type Composer interface {
	Compose(ctx context.Context, evt notification.Event) (*model.Notification, error)
}

type ReminderSweepConfig struct {
	Interval        time.Duration
	Lookahead       time.Duration
	MissedDoseAfter time.Duration
	RefillThreshold int
}

// ReminderSweepWorker scans active medication schedules and composes
// due-dose reminders, missed-dose alerts, and refill alerts. Reminders
// are deduplicated in storage so overlapping sweeps never double-fire;
// missed and refill alerts are deduplicated in memory per day.
type ReminderSweepWorker struct {
	meds          repository.MedicationRepository
	notifications repository.NotificationRepository
	scheduler     *schedule.Service
	composer      Composer
	cfg           ReminderSweepConfig
	metrics       *metrics.Metrics
	logger        *logger.Logger

	mu      sync.Mutex
	alerted map[string]time.Time
}

func NewReminderSweepWorker(
	meds repository.MedicationRepository,
	notifications repository.NotificationRepository,
	scheduler *schedule.Service,
	composer Composer,
	cfg ReminderSweepConfig,
	m *metrics.Metrics,
	lg *logger.Logger,
) *ReminderSweepWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = time.Hour
	}
	if cfg.MissedDoseAfter <= 0 {
		cfg.MissedDoseAfter = time.Hour
	}
	if cfg.RefillThreshold <= 0 {
		cfg.RefillThreshold = 5
	}
	return &ReminderSweepWorker{
		meds:          meds,
		notifications: notifications,
		scheduler:     scheduler,
		composer:      composer,
		cfg:           cfg,
		metrics:       m,
		logger:        lg,
		alerted:       make(map[string]time.Time),
	}
}

func (w *ReminderSweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.Sweep(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Sweep(ctx, now)
		}
	}
}

// Sweep runs one pass over every active medication.
func (w *ReminderSweepWorker) Sweep(ctx context.Context, now time.Time) {
	start := time.Now()

	meds, err := w.meds.ListActive(ctx, now)
	if err != nil {
		w.logger.Error(err, "reminder sweep failed to list medications")
		return
	}

	for _, med := range meds {
		w.sweepMedication(ctx, med, now)
	}
	w.pruneAlerted(now)

	if w.metrics != nil {
		w.metrics.SweepDuration.WithLabelValues("reminder").Observe(time.Since(start).Seconds())
	}
}

func (w *ReminderSweepWorker) sweepMedication(ctx context.Context, med *model.Medication, now time.Time) {
	w.checkRefill(ctx, med, now)

	if med.IsPRN {
		return
	}

	lookback := w.cfg.MissedDoseAfter + time.Hour
	doses, err := w.scheduler.DueDoses(med, now.Add(-lookback), now.Add(w.cfg.Lookahead), now)
	if err != nil {
		w.logger.Warn("skipping medication with unusable schedule",
			"medication_id", med.ID.String(), "error", err.Error())
		return
	}

	for _, dose := range doses {
		missedAt := dose.ScheduledTime.Add(w.cfg.MissedDoseAfter)
		switch {
		case !now.Before(missedAt):
			if !doseTaken(med, dose) {
				w.fireMissedDose(ctx, med, dose, now)
			}
		case !dose.ReminderTime.After(now):
			w.fireReminder(ctx, med, dose)
		}
	}
}

// doseTaken treats a dose as taken when a dose was logged near or after
// its scheduled time. Individual dose logs live outside this service,
// so last-taken is the signal available here.
func doseTaken(med *model.Medication, dose model.DueDose) bool {
	if med.LastTaken == nil {
		return false
	}
	return !med.LastTaken.Before(dose.ScheduledTime.Add(-30 * time.Minute))
}

func (w *ReminderSweepWorker) fireReminder(ctx context.Context, med *model.Medication, dose model.DueDose) {
	exists, err := w.notifications.HasReminder(ctx, dose.MedicationID, dose.ScheduledTime)
	if err != nil {
		w.logger.Error(err, "reminder dedup check failed", "medication_id", dose.MedicationID.String())
		return
	}
	if exists {
		return
	}

	medID := dose.MedicationID
	scheduledFor := dose.ScheduledTime
	evt := notification.Event{
		Type:         model.EventMedicationDue,
		UserID:       dose.UserID,
		CarerID:      med.CarerID,
		MedicationID: &medID,
		Urgency:      model.UrgencyNormal,
		ScheduledFor: &scheduledFor,
		Data: model.JSONMap{
			"medication_name": dose.MedicationName,
			"dosage":          formatDosage(med.Dosage),
			"scheduled_time":  localClock(med, dose.ScheduledTime),
		},
	}
	if _, err := w.composer.Compose(ctx, evt); err != nil {
		w.logger.Error(err, "failed to compose reminder", "medication_id", medID.String())
		return
	}
	if w.metrics != nil {
		w.metrics.RemindersComposed.Inc()
	}
}

func (w *ReminderSweepWorker) fireMissedDose(ctx context.Context, med *model.Medication, dose model.DueDose, now time.Time) {
	key := fmt.Sprintf("missed:%s:%d", dose.MedicationID, dose.ScheduledTime.Unix())
	if !w.markAlerted(key, now) {
		return
	}

	medID := dose.MedicationID
	data := model.JSONMap{
		"medication_name": dose.MedicationName,
		"scheduled_time":  localClock(med, dose.ScheduledTime),
	}

	evt := notification.Event{
		Type:         model.EventMissedDose,
		UserID:       dose.UserID,
		CarerID:      med.CarerID,
		MedicationID: &medID,
		Urgency:      model.UrgencyNormal,
		Data:         data,
	}
	if _, err := w.composer.Compose(ctx, evt); err != nil {
		w.logger.Error(err, "failed to compose missed-dose alert", "medication_id", medID.String())
	}

	if med.CarerID != nil {
		carerEvt := evt
		carerEvt.UserID = *med.CarerID
		carerEvt.CarerID = nil
		if _, err := w.composer.Compose(ctx, carerEvt); err != nil {
			w.logger.Error(err, "failed to compose carer missed-dose alert", "medication_id", medID.String())
		}
	}
}

func (w *ReminderSweepWorker) checkRefill(ctx context.Context, med *model.Medication, now time.Time) {
	if med.RemainingDoses == nil || *med.RemainingDoses > w.cfg.RefillThreshold {
		return
	}

	key := fmt.Sprintf("refill:%s:%s", med.ID, now.Format("2006-01-02"))
	if !w.markAlerted(key, now) {
		return
	}

	evt := notification.Event{
		Type:         model.EventRefillAlert,
		UserID:       med.UserID,
		CarerID:      med.CarerID,
		MedicationID: &med.ID,
		Urgency:      model.UrgencyNormal,
		Data: model.JSONMap{
			"medication_name": med.Name,
			"remaining":       fmt.Sprintf("%d", *med.RemainingDoses),
		},
	}
	if _, err := w.composer.Compose(ctx, evt); err != nil {
		w.logger.Error(err, "failed to compose refill alert", "medication_id", med.ID.String())
	}
}

// markAlerted records the key and reports whether it was new.
func (w *ReminderSweepWorker) markAlerted(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.alerted[key]; ok {
		return false
	}
	w.alerted[key] = now
	return true
}

func (w *ReminderSweepWorker) pruneAlerted(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, at := range w.alerted {
		if now.Sub(at) > 48*time.Hour {
			delete(w.alerted, k)
		}
	}
}

func formatDosage(d model.Dosage) string {
	if d.Amount <= 0 {
		return d.Unit
	}
	return strings.TrimSpace(fmt.Sprintf("%g %s", d.Amount, d.Unit))
}

func localClock(med *model.Medication, t time.Time) string {
	loc, err := med.Location()
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("15:04")
}
