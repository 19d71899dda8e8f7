package model

import (
	"time"

	"github.com/google/uuid"
)

type MedicationStatus string

const (
	MedicationStatusActive       MedicationStatus = "active"
	MedicationStatusPaused       MedicationStatus = "paused"
	MedicationStatusDiscontinued MedicationStatus = "discontinued"
)

// Dosage describes how much of a medication is taken and how often.
type Dosage struct {
	Amount      float64 `json:"amount" db:"dosage_amount"`
	Unit        string  `json:"unit" db:"dosage_unit"`
	Frequency   string  `json:"frequency" db:"dosage_frequency"`
	TimesPerDay int     `json:"times_per_day" db:"dosage_times_per_day"`
}

// Schedule describes the recurring plan for a medication. DoseTimes are
// local wall-clock times ("HH:MM") interpreted in Timezone.
type Schedule struct {
	StartDate           time.Time  `json:"start_date" db:"start_date"`
	EndDate             *time.Time `json:"end_date,omitempty" db:"end_date"`
	DoseTimes           []string   `json:"dose_times" db:"-"`
	ReminderLeadMinutes int        `json:"reminder_lead_minutes" db:"reminder_lead_minutes"`
	Timezone            string     `json:"timezone" db:"timezone"`
}

type Medication struct {
	Base
	UserID              uuid.UUID        `json:"user_id" db:"user_id"`
	Name                string           `json:"name" db:"name"`
	Dosage              Dosage           `json:"dosage" db:"-"`
	Schedule            Schedule         `json:"schedule" db:"-"`
	Status              MedicationStatus `json:"status" db:"status"`
	IsPRN               bool             `json:"is_prn" db:"is_prn"`
	MinHoursBetweenDose *float64         `json:"min_hours_between_doses,omitempty" db:"min_hours_between_doses"`
	MaxDailyDoses       *int             `json:"max_daily_doses,omitempty" db:"max_daily_doses"`
	RemainingDoses      *int             `json:"remaining_doses,omitempty" db:"remaining_doses"`
	LastTaken           *time.Time       `json:"last_taken,omitempty" db:"last_taken"`
	DailyDosesTaken     int              `json:"daily_doses_taken" db:"daily_doses_taken"`
	DailyDosesResetAt   time.Time        `json:"daily_doses_reset_at" db:"daily_doses_reset_at"`
	CarerID             *uuid.UUID       `json:"carer_id,omitempty" db:"carer_id"`
}

// Location resolves the medication's IANA timezone, falling back to UTC
// when none is set.
func (m *Medication) Location() (*time.Location, error) {
	if m.Schedule.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(m.Schedule.Timezone)
}

// ActiveOn reports whether the schedule covers the calendar day of the
// given instant in the medication's timezone. The end date, if set, is
// inclusive.
func (m *Medication) ActiveOn(date time.Time) bool {
	loc, err := m.Location()
	if err != nil {
		loc = time.UTC
	}
	day := calendarDay(date, loc)
	if day.Before(calendarDay(m.Schedule.StartDate, loc)) {
		return false
	}
	if m.Schedule.EndDate != nil && day.After(calendarDay(*m.Schedule.EndDate, loc)) {
		return false
	}
	return true
}

// calendarDay collapses an instant to its calendar day as seen in loc.
// Truncating to UTC day boundaries instead would shift start and end
// dates by a day for schedules in non-UTC timezones.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DueDose is one concrete administration instance computed from a schedule.
// It is ephemeral: recomputed per query, never persisted on its own.
type DueDose struct {
	MedicationID    uuid.UUID `json:"medication_id"`
	UserID          uuid.UUID `json:"user_id"`
	MedicationName  string    `json:"medication_name"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	ReminderTime    time.Time `json:"reminder_time"`
	IsOverdue       bool      `json:"is_overdue"`
	MinutesUntilDue int       `json:"minutes_until_due"`
}

type MedicationFilters struct {
	UserID uuid.UUID
	Status MedicationStatus
}
