package notification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meditrack/reminder-api/internal/model"
)

// TemplateRegistry renders notification titles and messages per event
// type. Unknown event types fall back to a generic rendering so a new
// producer never drops an alert on the floor.
type TemplateRegistry struct {
	templates map[model.EventType]template
}

type template struct {
	title   func(d model.JSONMap) string
	message func(d model.JSONMap) string
}

func str(d model.JSONMap, key, fallback string) string {
	if d == nil {
		return fallback
	}
	if v, ok := d[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: map[model.EventType]template{
			model.EventMedicationDue: {
				title: func(d model.JSONMap) string {
					return fmt.Sprintf("Time to take %s", str(d, "medication_name", "your medication"))
				},
				message: func(d model.JSONMap) string {
					return fmt.Sprintf("%s (%s) is due at %s.",
						str(d, "medication_name", "Your medication"),
						str(d, "dosage", "scheduled dose"),
						str(d, "scheduled_time", "the scheduled time"))
				},
			},
			model.EventMissedDose: {
				title: func(d model.JSONMap) string {
					return fmt.Sprintf("Missed dose: %s", str(d, "medication_name", "medication"))
				},
				message: func(d model.JSONMap) string {
					return fmt.Sprintf("The %s dose of %s was not recorded. If you have taken it, please log it.",
						str(d, "scheduled_time", "scheduled"),
						str(d, "medication_name", "your medication"))
				},
			},
			model.EventInteractionWarning: {
				title: func(d model.JSONMap) string {
					return "Medication timing warning"
				},
				message: func(d model.JSONMap) string {
					return fmt.Sprintf("%s and %s are scheduled too close together. %s",
						str(d, "medication_a", "Two of your medications"),
						str(d, "medication_b", "another"),
						str(d, "recommendation", ""))
				},
			},
			model.EventRefillAlert: {
				title: func(d model.JSONMap) string {
					return fmt.Sprintf("Refill needed: %s", str(d, "medication_name", "medication"))
				},
				message: func(d model.JSONMap) string {
					return fmt.Sprintf("Only %s doses of %s remain. Time to arrange a refill.",
						str(d, "remaining", "a few"),
						str(d, "medication_name", "your medication"))
				},
			},
			model.EventComplianceReport: {
				title: func(d model.JSONMap) string {
					return "Your weekly medication summary"
				},
				message: func(d model.JSONMap) string {
					return str(d, "summary", "Your medication compliance report is ready.")
				},
			},
			model.EventCarerAssignment: {
				title: func(d model.JSONMap) string {
					return "Carer access updated"
				},
				message: func(d model.JSONMap) string {
					return str(d, "detail", "A carer assignment on your account has changed.")
				},
			},
			model.EventEmergencyAlert: {
				title: func(d model.JSONMap) string {
					return "Emergency alert"
				},
				message: func(d model.JSONMap) string {
					return str(d, "detail", "An emergency alert was raised on a linked account.")
				},
			},
		},
	}
}

// Render produces the title and message for an event.
func (r *TemplateRegistry) Render(eventType model.EventType, data model.JSONMap) (title, message string) {
	if tpl, ok := r.templates[eventType]; ok {
		return tpl.title(data), tpl.message(data)
	}
	return strings.ReplaceAll(string(eventType), "_", " "), str(data, "detail", "You have a new notification.")
}

// RenderDigest combines batched notifications into one message, grouped
// by type, for a single email per recipient.
func (r *TemplateRegistry) RenderDigest(items []*model.Notification) (subject, body string) {
	groups := make(map[model.EventType][]*model.Notification)
	for _, n := range items {
		groups[n.Type] = append(groups[n.Type], n)
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, string(t))
	}
	sort.Strings(types)

	var b strings.Builder
	for _, t := range types {
		heading := strings.ReplaceAll(t, "_", " ")
		fmt.Fprintf(&b, "%s:\n", strings.ToUpper(heading[:1])+heading[1:])
		for _, n := range groups[model.EventType(t)] {
			fmt.Fprintf(&b, "  - %s: %s\n", n.Title, n.Message)
		}
		b.WriteString("\n")
	}

	if len(items) == 1 {
		return items[0].Title, strings.TrimSpace(b.String())
	}
	return fmt.Sprintf("%d medication updates", len(items)), strings.TrimSpace(b.String())
}
