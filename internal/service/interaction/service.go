package interaction

import (
	"fmt"
	"sort"
	"time"

	"github.com/meditrack/reminder-api/internal/model"
)

// DefaultSeparation maps severity to the minimum hours required between
// doses of interacting medications.
var DefaultSeparation = map[model.Severity]float64{
	model.SeverityMinor:    2,
	model.SeverityModerate: 4,
	model.SeveritySevere:   12,
}

// DoseScheduleKind selects how a schedule's dose instants are expressed.
type DoseScheduleKind int

const (
	// ScheduleFixed is an explicit list of dose datetimes.
	ScheduleFixed DoseScheduleKind = iota
	// ScheduleInterval repeats from an anchor at a fixed period.
	ScheduleInterval
	// ScheduleComplex is a list of entries each carrying its own time.
	ScheduleComplex
)

// DoseSchedule is one medication's dosing pattern over the comparison
// horizon. All three shapes normalize to a flat, ordered datetime list
// before comparison.
type DoseSchedule struct {
	Kind    DoseScheduleKind
	Times   []time.Time   // ScheduleFixed
	Anchor  time.Time     // ScheduleInterval
	Every   time.Duration // ScheduleInterval
	Entries []DoseEntry   // ScheduleComplex
}

type DoseEntry struct {
	Time time.Time
}

// Flatten normalizes the schedule to ordered dose instants within
// [horizonStart, horizonEnd).
func (s DoseSchedule) Flatten(horizonStart, horizonEnd time.Time) []time.Time {
	var times []time.Time
	switch s.Kind {
	case ScheduleFixed:
		for _, t := range s.Times {
			if !t.Before(horizonStart) && t.Before(horizonEnd) {
				times = append(times, t)
			}
		}
	case ScheduleInterval:
		if s.Every <= 0 {
			return nil
		}
		t := s.Anchor
		for t.Before(horizonStart) {
			t = t.Add(s.Every)
		}
		for ; t.Before(horizonEnd); t = t.Add(s.Every) {
			times = append(times, t)
		}
	case ScheduleComplex:
		for _, e := range s.Entries {
			if !e.Time.Before(horizonStart) && e.Time.Before(horizonEnd) {
				times = append(times, e.Time)
			}
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// Service finds dose-time pairs that violate the minimum spacing for a
// known interaction severity. Severity resolution is supplied by the
// caller; this service only applies the spacing policy.
type Service struct {
	separation map[model.Severity]float64
	horizon    time.Duration
}

func NewService(separation map[model.Severity]float64, horizon time.Duration) *Service {
	if separation == nil {
		separation = DefaultSeparation
	}
	if horizon <= 0 {
		horizon = 48 * time.Hour
	}
	return &Service{separation: separation, horizon: horizon}
}

// MinSeparationHours returns the policy spacing for a severity.
func (s *Service) MinSeparationHours(severity model.Severity) float64 {
	if hrs, ok := s.separation[severity]; ok {
		return hrs
	}
	return s.separation[model.SeverityModerate]
}

// CheckConflicts compares every cross pair of dose instants from the two
// schedules over the horizon starting at from. Two doses exactly the
// minimum apart do not conflict; strictly closer does.
func (s *Service) CheckConflicts(a, b DoseSchedule, severity model.Severity, from time.Time) []model.Conflict {
	horizonEnd := from.Add(s.horizon)
	timesA := a.Flatten(from, horizonEnd)
	timesB := b.Flatten(from, horizonEnd)

	minHours := s.MinSeparationHours(severity)

	var conflicts []model.Conflict
	for _, t1 := range timesA {
		for _, t2 := range timesB {
			apart := t1.Sub(t2).Hours()
			if apart < 0 {
				apart = -apart
			}
			if apart < minHours {
				conflicts = append(conflicts, model.Conflict{
					Time1:          t1,
					Time2:          t2,
					HoursApart:     apart,
					Severity:       severity,
					Recommendation: recommendation(severity, minHours),
				})
			}
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].HoursApart < conflicts[j].HoursApart
	})
	return conflicts
}

func recommendation(severity model.Severity, minHours float64) string {
	switch severity {
	case model.SeveritySevere:
		return fmt.Sprintf("Severe interaction: keep doses at least %.0f hours apart and consult your prescriber", minHours)
	case model.SeverityModerate:
		return fmt.Sprintf("Moderate interaction: space doses at least %.0f hours apart", minHours)
	default:
		return fmt.Sprintf("Minor interaction: consider spacing doses %.0f hours apart", minHours)
	}
}
