package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meditrack/reminder-api/internal/model"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
)

// Service expands recurring medication schedules into concrete due-dose
// instances within a time window.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// parseHHMM parses a strict "HH:MM" wall-clock string.
func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, apperrors.NewValidation(fmt.Sprintf("malformed dose time %q, want HH:MM", s), nil)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, apperrors.NewValidation(fmt.Sprintf("malformed dose time %q, bad hour", s), err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, apperrors.NewValidation(fmt.Sprintf("malformed dose time %q, bad minute", s), err)
	}
	return hour, minute, nil
}

// DueDoses computes every dose instance of med falling inside
// [windowStart, windowEnd). Overdue doses report MinutesUntilDue clamped
// to zero; the reminder time leads the dose by the configured minutes.
func (s *Service) DueDoses(med *model.Medication, windowStart, windowEnd, now time.Time) ([]model.DueDose, error) {
	if med.IsPRN {
		return nil, nil
	}
	if len(med.Schedule.DoseTimes) == 0 {
		return nil, apperrors.NewValidation(fmt.Sprintf("medication %s has no dose times", med.ID), nil)
	}

	loc, err := med.Location()
	if err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("medication %s has invalid timezone %q", med.ID, med.Schedule.Timezone), err)
	}

	lead := time.Duration(med.Schedule.ReminderLeadMinutes) * time.Minute

	var doses []model.DueDose

	// Walk calendar days in the medication's location so DST shifts
	// land doses on the right wall-clock time.
	day := windowStart.In(loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	for ; day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
		if !med.ActiveOn(day) {
			continue
		}
		for _, doseTime := range med.Schedule.DoseTimes {
			hour, minute, err := parseHHMM(doseTime)
			if err != nil {
				return nil, err
			}

			scheduled := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
			if scheduled.Before(windowStart) || !scheduled.Before(windowEnd) {
				continue
			}

			minutes := int(scheduled.Sub(now).Minutes())
			overdue := minutes < 0
			if overdue {
				minutes = 0
			}

			doses = append(doses, model.DueDose{
				MedicationID:    med.ID,
				UserID:          med.UserID,
				MedicationName:  med.Name,
				ScheduledTime:   scheduled,
				ReminderTime:    scheduled.Add(-lead),
				IsOverdue:       overdue,
				MinutesUntilDue: minutes,
			})
		}
	}

	sortDueDoses(doses)
	return doses, nil
}

// DueDosesAll merges due doses across medications, sorted by scheduled
// time with medication id breaking ties.
func (s *Service) DueDosesAll(meds []*model.Medication, windowStart, windowEnd, now time.Time) ([]model.DueDose, error) {
	var all []model.DueDose
	for _, med := range meds {
		doses, err := s.DueDoses(med, windowStart, windowEnd, now)
		if err != nil {
			return nil, err
		}
		all = append(all, doses...)
	}
	sortDueDoses(all)
	return all, nil
}

func sortDueDoses(doses []model.DueDose) {
	sort.SliceStable(doses, func(i, j int) bool {
		if doses[i].ScheduledTime.Equal(doses[j].ScheduledTime) {
			return doses[i].MedicationID.String() < doses[j].MedicationID.String()
		}
		return doses[i].ScheduledTime.Before(doses[j].ScheduledTime)
	})
}

// NextAllowedAt reports when a PRN medication may next be taken, based
// on the last dose and the minimum spacing. The zero time means now.
func (s *Service) NextAllowedAt(med *model.Medication) time.Time {
	if med.LastTaken == nil || med.MinHoursBetweenDose == nil {
		return time.Time{}
	}
	spacing := time.Duration(*med.MinHoursBetweenDose * float64(time.Hour))
	return med.LastTaken.Add(spacing)
}

// DailyLimitReached reports whether the medication hit its daily dose
// cap. The counter resets at local midnight; a stale reset timestamp
// means the counter no longer applies.
func (s *Service) DailyLimitReached(med *model.Medication, now time.Time) bool {
	if med.MaxDailyDoses == nil {
		return false
	}
	loc, err := med.Location()
	if err != nil {
		loc = time.UTC
	}
	localNow := now.In(loc)
	midnight := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	if med.DailyDosesResetAt.Before(midnight) {
		return false
	}
	return med.DailyDosesTaken >= *med.MaxDailyDoses
}
