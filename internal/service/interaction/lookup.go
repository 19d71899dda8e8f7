package interaction

import (
	"context"
	"sort"
	"strings"

	"github.com/meditrack/reminder-api/internal/model"
)

// Lookup resolves a drug pair to an interaction severity. The content
// of the interaction table is external; the pipeline treats the result
// as opaque input to the spacing check.
type Lookup interface {
	Severity(ctx context.Context, drugA, drugB string) (model.Severity, bool, error)
}

// PairKey builds the canonical order-independent key for a drug pair.
func PairKey(drugA, drugB string) string {
	names := []string{strings.ToLower(strings.TrimSpace(drugA)), strings.ToLower(strings.TrimSpace(drugB))}
	sort.Strings(names)
	return names[0] + "|" + names[1]
}

// DefaultRules is a small built-in table of well-known interacting
// pairs, used when no external interaction source is configured.
func DefaultRules() []model.InteractionRule {
	return []model.InteractionRule{
		{DrugPairKey: PairKey("warfarin", "aspirin"), Severity: model.SeveritySevere},
		{DrugPairKey: PairKey("warfarin", "ibuprofen"), Severity: model.SeveritySevere},
		{DrugPairKey: PairKey("lisinopril", "ibuprofen"), Severity: model.SeverityModerate},
		{DrugPairKey: PairKey("levothyroxine", "calcium"), Severity: model.SeverityModerate},
		{DrugPairKey: PairKey("levothyroxine", "iron"), Severity: model.SeverityModerate},
		{DrugPairKey: PairKey("ciprofloxacin", "calcium"), Severity: model.SeverityModerate},
		{DrugPairKey: PairKey("omeprazole", "clopidogrel"), Severity: model.SeverityModerate},
		{DrugPairKey: PairKey("simvastatin", "amlodipine"), Severity: model.SeverityMinor},
	}
}

// StaticLookup serves severities from a fixed table, keyed by PairKey.
type StaticLookup struct {
	rules map[string]model.Severity
}

func NewStaticLookup(rules []model.InteractionRule) *StaticLookup {
	m := make(map[string]model.Severity, len(rules))
	for _, r := range rules {
		m[r.DrugPairKey] = r.Severity
	}
	return &StaticLookup{rules: m}
}

func (l *StaticLookup) Severity(_ context.Context, drugA, drugB string) (model.Severity, bool, error) {
	sev, ok := l.rules[PairKey(drugA, drugB)]
	return sev, ok, nil
}
