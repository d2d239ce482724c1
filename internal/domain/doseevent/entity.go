// Package doseevent implements the DoseEvent aggregate: one scheduled
// administration of one medication.  Event rows are the durable ground truth
// for reminder delivery and compliance; every state change goes through a
// compare-and-set so concurrent sweepers and user actions cannot double
// apply.
package doseevent

import (
	"fmt"
	"time"

	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Status is the lifecycle state of a dose event.
type Status string

const (
	// StatusPending: scheduled, not yet due or not yet picked up by a sweep.
	StatusPending Status = "pending"
	// StatusFired: the reminder was triggered and dispatch was enqueued.
	StatusFired Status = "fired"
	// StatusTaken: the user confirmed taking the dose.
	StatusTaken Status = "taken"
	// StatusMissed: the grace window expired, or the user skipped it.
	StatusMissed Status = "missed"
	// StatusCancelled: reaped before firing because its medication was
	// edited, archived, or deleted.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a member of the status enum.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFired, StatusTaken, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusCancelled
}

// ─────────────────────────────────────────────────────────────────────────────
// State machine
// ─────────────────────────────────────────────────────────────────────────────

// allowedTransitions defines the valid next states reachable from each
// status.  The machine is monotone: nothing ever returns to pending, and
// cancellation only reaches events that have not fired.
//
//	pending ──► fired ──► taken
//	   │           │
//	   │           └────► missed ──► taken   (late confirmation)
//	   └──► cancelled
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusFired, StatusCancelled},
	StatusFired:     {StatusTaken, StatusMissed},
	StatusMissed:    {StatusTaken},
	StatusTaken:     {},
	StatusCancelled: {},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Entity
// ─────────────────────────────────────────────────────────────────────────────

// DoseEvent is one scheduled dose of one medication for one user.
type DoseEvent struct {
	ID           common.ID     `json:"id"`
	MedicationID common.ID     `json:"medication_id"`
	UserID       common.UserID `json:"user_id"`

	ScheduledAt time.Time `json:"scheduled_at"`
	Status      Status    `json:"status"`

	FiredAt *time.Time `json:"fired_at,omitempty"`
	ActedAt *time.Time `json:"acted_at,omitempty"`

	// DeliveryDegraded flags events whose reminder permanently failed to
	// dispatch.  The event itself stays queryable and actionable.
	DeliveryDegraded bool `json:"delivery_degraded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending dose event for the given medication and time.
func New(medicationID common.ID, userID common.UserID, scheduledAt time.Time) *DoseEvent {
	now := time.Now().UTC()
	return &DoseEvent{
		ID:           common.NewID(),
		MedicationID: medicationID,
		UserID:       userID,
		ScheduledAt:  scheduledAt.UTC(),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Transition applies a status change in memory after checking the machine.
// Persistence still revalidates via compare-and-set; this guard catches
// programming errors early.
func (e *DoseEvent) Transition(to Status, at time.Time) error {
	if !CanTransition(e.Status, to) {
		return errors.InvalidTransition(
			fmt.Sprintf("dose event %s: illegal transition %s -> %s", e.ID, e.Status, to))
	}
	switch to {
	case StatusFired:
		t := at.UTC()
		e.FiredAt = &t
	case StatusTaken, StatusMissed:
		t := at.UTC()
		e.ActedAt = &t
	}
	e.Status = to
	e.UpdatedAt = at.UTC()
	return nil
}

// Due reports whether the event is pending and its scheduled time has
// passed.
func (e *DoseEvent) Due(now time.Time) bool {
	return e.Status == StatusPending && !e.ScheduledAt.After(now)
}

// GraceExpired reports whether a fired event has outlived the grace window
// without user action.
func (e *DoseEvent) GraceExpired(now time.Time, grace time.Duration) bool {
	if e.Status != StatusFired || e.FiredAt == nil {
		return false
	}
	return now.Sub(*e.FiredAt) > grace
}
