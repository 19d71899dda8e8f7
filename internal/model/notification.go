package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending        NotificationStatus = "pending"
	NotificationStatusDispatching    NotificationStatus = "dispatching"
	NotificationStatusSent           NotificationStatus = "sent"
	NotificationStatusRetryScheduled NotificationStatus = "retry_scheduled"
	NotificationStatusDeadLettered   NotificationStatus = "dead_lettered"
	NotificationStatusCancelled      NotificationStatus = "cancelled"
)

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyUrgent Urgency = "urgent"
)

type EventType string

const (
	EventMedicationDue      EventType = "medication_due"
	EventMissedDose         EventType = "missed_dose"
	EventInteractionWarning EventType = "interaction_warning"
	EventRefillAlert        EventType = "refill_alert"
	EventComplianceReport   EventType = "compliance_report"
	EventCarerAssignment    EventType = "carer_assignment"
	EventEmergencyAlert     EventType = "emergency_alert"
)

type AttemptOutcome string

const (
	AttemptOutcomeDelivered AttemptOutcome = "delivered"
	AttemptOutcomeFailed    AttemptOutcome = "failed"
	AttemptOutcomeSkipped   AttemptOutcome = "skipped"
)

// ChannelAttempt is one audit entry for a delivery try on a channel.
type ChannelAttempt struct {
	Channel   Channel        `json:"channel"`
	Timestamp time.Time      `json:"timestamp"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
}

type Notification struct {
	Base
	UserID            uuid.UUID          `json:"user_id" db:"user_id"`
	CarerID           *uuid.UUID         `json:"carer_id,omitempty" db:"carer_id"`
	MedicationID      *uuid.UUID         `json:"medication_id,omitempty" db:"medication_id"`
	Type              EventType          `json:"type" db:"type"`
	Title             string             `json:"title" db:"title"`
	Message           string             `json:"message" db:"message"`
	Data              JSONMap            `json:"data,omitempty" db:"-"`
	Urgency           Urgency            `json:"urgency" db:"urgency"`
	Recipient         string             `json:"recipient" db:"recipient"`
	ChannelsToAttempt []Channel          `json:"channels_to_attempt" db:"-"`
	ChannelsAttempted []ChannelAttempt   `json:"channels_attempted" db:"-"`
	Status            NotificationStatus `json:"status" db:"status"`
	RetryCount        int                `json:"retry_count" db:"retry_count"`
	MaxRetries        int                `json:"max_retries" db:"max_retries"`
	NextAttemptAt     *time.Time         `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	ScheduledFor      *time.Time         `json:"scheduled_for,omitempty" db:"scheduled_for"`
	Batched           bool               `json:"batched" db:"batched"`
	SentAt            *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
}

// Terminal reports whether the notification has reached a final state.
func (n *Notification) Terminal() bool {
	switch n.Status {
	case NotificationStatusSent, NotificationStatusDeadLettered, NotificationStatusCancelled:
		return true
	}
	return false
}

// RecordAttempt appends a delivery attempt to the audit trail.
func (n *Notification) RecordAttempt(ch Channel, outcome AttemptOutcome, errMsg string, at time.Time) {
	n.ChannelsAttempted = append(n.ChannelsAttempted, ChannelAttempt{
		Channel:   ch,
		Timestamp: at,
		Outcome:   outcome,
		Error:     errMsg,
	})
}

// MarshalAttempts serializes the audit trail for storage.
func (n *Notification) MarshalAttempts() (json.RawMessage, error) {
	if n.ChannelsAttempted == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(n.ChannelsAttempted)
}

type NotificationFilters struct {
	UserID    uuid.UUID
	Type      EventType
	Status    NotificationStatus
	StartDate time.Time
	EndDate   time.Time
	Pagination
}
