package model

import "time"

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// InteractionRule maps a drug pair to the spacing policy its severity
// demands. The pair key and severity come from an external lookup; this
// service never decides severity itself.
type InteractionRule struct {
	DrugPairKey      string   `json:"drug_pair_key" db:"drug_pair_key"`
	Severity         Severity `json:"severity" db:"severity"`
	MinSeparationHrs float64  `json:"min_separation_hours" db:"min_separation_hours"`
}

// Conflict records one pair of dose times closer together than the
// severity's minimum separation allows.
type Conflict struct {
	Time1          time.Time `json:"time1"`
	Time2          time.Time `json:"time2"`
	HoursApart     float64   `json:"hours_apart"`
	Severity       Severity  `json:"severity"`
	Recommendation string    `json:"recommendation"`
}
