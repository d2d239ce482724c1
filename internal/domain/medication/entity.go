// Package medication implements the MedicationRecord aggregate and the
// service operations around it: creation from confirmed extraction mentions
// or manual entry, edits with schedule regeneration, and archival with
// pending-dose cleanup.
package medication

import (
	"strings"
	"time"

	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Status is the record lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ScheduleState records the outcome of the last schedule compilation.
type ScheduleState string

const (
	// ScheduleScheduled: dose events exist for this record.
	ScheduleScheduled ScheduleState = "scheduled"
	// ScheduleDeferred: compilation failed (unknown frequency); the record
	// persists and waits for the user to resolve the field.
	ScheduleDeferred ScheduleState = "deferred"
	// ScheduleUnscheduled: nothing to schedule, e.g. as-needed medication.
	ScheduleUnscheduled ScheduleState = "unscheduled"
)

// Source records how the medication entered the system.
type Source string

const (
	SourceOCR    Source = "ocr"
	SourceManual Source = "manual"
)

// Record is one medication a user is taking.
type Record struct {
	ID     common.ID     `json:"id"`
	UserID common.UserID `json:"user_id"`

	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`

	Frequency common.FrequencyTag `json:"frequency"`

	// DurationDays is the course length; 0 means indefinite.
	DurationDays int       `json:"duration_days"`
	StartDate    time.Time `json:"start_date"`

	Status        Status        `json:"status"`
	ScheduleState ScheduleState `json:"schedule_state"`
	Source        Source        `json:"source"`

	// Confidence is the extraction name confidence; 1.0 for manual entry.
	Confidence float64 `json:"confidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds an active, not-yet-scheduled record.
func NewRecord(userID common.UserID, name string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:            common.NewID(),
		UserID:        userID,
		Name:          strings.TrimSpace(name),
		Frequency:     common.FreqUnknown,
		Status:        StatusActive,
		ScheduleState: ScheduleDeferred,
		Source:        SourceManual,
		Confidence:    1.0,
		StartDate:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks the record's own invariants.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return errors.InvalidParam("medication user_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.InvalidParam("medication name is required")
	}
	if r.Frequency != common.FreqUnknown && !r.Frequency.Known() {
		return errors.InvalidParam("medication frequency tag is not recognised")
	}
	if r.DurationDays < 0 {
		return errors.InvalidParam("medication duration_days must not be negative")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.InvalidParam("medication confidence must be in [0, 1]")
	}
	switch r.Status {
	case StatusActive, StatusArchived:
	default:
		return errors.InvalidParam("medication status is not recognised")
	}
	return nil
}

// Active reports whether the record still drives reminders.
func (r *Record) Active() bool { return r.Status == StatusActive }

// EndDate returns the last day of the course, or zero time when the course
// is indefinite.
func (r *Record) EndDate() time.Time {
	if r.DurationDays <= 0 {
		return time.Time{}
	}
	return r.StartDate.AddDate(0, 0, r.DurationDays-1)
}
