// Package notification carries fired dose reminders out of the system.
// Delivery is decoupled from the scheduler through a durable outbox: the
// scheduler enqueues, the dispatcher drains, and the channel is whatever
// transport is wired in (Kafka in production, a fake in tests).
package notification

import (
	"context"
	"time"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// Channel delivers a serialized reminder to a user's realtime feed.  A
// returned error is treated as transient and retried up to the dispatcher's
// attempt budget.
type Channel interface {
	Publish(ctx context.Context, userID common.UserID, payload []byte) error
}

// ReminderPayload is the wire shape of a reminder, serialized into the
// outbox at fire time so delivery never needs to re-read the medication.
type ReminderPayload struct {
	EventID        common.ID     `json:"event_id"`
	MedicationID   common.ID     `json:"medication_id"`
	UserID         common.UserID `json:"user_id"`
	MedicationName string        `json:"medication_name"`
	Dosage         string        `json:"dosage"`
	ScheduledTime  time.Time     `json:"scheduled_time"`
	Status         string        `json:"status"`
}

// ─────────────────────────────────────────────────────────────────────────
// Outbox
// ─────────────────────────────────────────────────────────────────────────

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxMessage is one pending delivery.  Rows survive process restarts,
// which is what makes dispatch at-least-once rather than best-effort.
type OutboxMessage struct {
	ID            common.ID
	EventID       common.ID
	UserID        common.UserID
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	Status        OutboxStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOutboxMessage builds a pending message due immediately.
func NewOutboxMessage(eventID common.ID, userID common.UserID, payload []byte) *OutboxMessage {
	now := time.Now().UTC()
	return &OutboxMessage{
		ID:            common.NewID(),
		EventID:       eventID,
		UserID:        userID,
		Payload:       payload,
		Attempts:      0,
		NextAttemptAt: now,
		Status:        OutboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OutboxRepository persists outbox rows.  ClaimDue must hand a given row to
// at most one caller at a time (the postgres implementation uses
// FOR UPDATE SKIP LOCKED).
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *OutboxMessage) error
	// ClaimDue returns pending messages whose next_attempt_at is not after
	// now, oldest first, up to limit.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error)
	MarkDone(ctx context.Context, id common.ID) error
	// Reschedule records a failed attempt and pushes the next one out.
	Reschedule(ctx context.Context, id common.ID, attempts int, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id common.ID) error
}
