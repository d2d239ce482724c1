// Package compliance records user responses to fired reminders and turns
// the dose event history into adherence figures.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Action is a user's response to a reminder.
type Action string

const (
	ActionTaken   Action = "taken"
	ActionSkipped Action = "skipped"
)

func (a Action) target() (doseevent.Status, bool) {
	switch a {
	case ActionTaken:
		return doseevent.StatusTaken, true
	case ActionSkipped:
		return doseevent.StatusMissed, true
	}
	return "", false
}

// MedicationAdherence is one medication's adherence over the report window.
type MedicationAdherence struct {
	MedicationID common.ID `json:"medication_id"`
	Name         string    `json:"name"`
	Taken        int       `json:"taken"`
	Missed       int       `json:"missed"`
	Pending      int       `json:"pending"`
	// Rate is taken/(taken+missed).  Counted is false when no dose has
	// reached a counted state yet, so a zero Rate is distinguishable from
	// "no data".
	Rate    float64 `json:"rate"`
	Counted bool    `json:"counted"`
}

// Report is a user's adherence summary.
type Report struct {
	UserID      common.UserID         `json:"user_id"`
	From        time.Time             `json:"from"`
	To          time.Time             `json:"to"`
	Medications []MedicationAdherence `json:"medications"`
	Overall     float64               `json:"overall"`
	Counted     bool                  `json:"counted"`
}

// Tracker applies user actions to dose events and computes adherence.
type Tracker struct {
	events      doseevent.Repository
	medications medication.Repository
	logger      logging.Logger
	now         func() time.Time
}

func NewTracker(events doseevent.Repository, medications medication.Repository, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Tracker{
		events:      events,
		medications: medications,
		logger:      logger.Named("compliance"),
		now:         time.Now,
	}
}

// RecordAction marks a fired dose taken or skipped.  Repeating an action
// that already landed is a no-op, so clients can retry safely.  A taken
// action on a missed dose is accepted as a late confirmation.
func (t *Tracker) RecordAction(ctx context.Context, userID common.UserID, eventID common.ID, action Action) (*doseevent.DoseEvent, error) {
	target, ok := action.target()
	if !ok {
		return nil, errors.InvalidParam(fmt.Sprintf("unknown action %q", action))
	}

	event, err := t.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil || event.UserID != userID {
		return nil, errors.New(errors.ErrCodeEventNotFound, "dose event not found")
	}

	if event.Status == target {
		return event, nil
	}
	if !doseevent.CanTransition(event.Status, target) {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot mark a %s dose %s", event.Status, action))
	}

	applied, err := t.events.UpdateStatusIf(ctx, eventID, event.Status, target)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race; re-read and judge the new state.
		event, err = t.events.GetByID(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if event != nil && event.Status == target {
			return event, nil
		}
		return nil, errors.Conflict("dose event changed concurrently")
	}

	t.logger.Info("dose action recorded",
		logging.String("event_id", string(eventID)),
		logging.String("action", string(action)))
	return t.events.GetByID(ctx, eventID)
}

// BuildReport computes per-medication and overall adherence for the last
// days days.  Archived medications still appear when they have events in
// the window.
func (t *Tracker) BuildReport(ctx context.Context, userID common.UserID, days int) (*Report, error) {
	if days <= 0 {
		days = 7
	}
	to := t.now().UTC()
	from := to.AddDate(0, 0, -days)

	records, err := t.medications.ListByUser(ctx, userID, true, common.Pagination{PageSize: 500})
	if err != nil {
		return nil, err
	}

	report := &Report{UserID: userID, From: from, To: to}
	totalTaken, totalMissed := 0, 0
	for _, rec := range records {
		counts, err := t.events.CountByStatus(ctx, rec.ID, from, to)
		if err != nil {
			return nil, err
		}
		entry := MedicationAdherence{
			MedicationID: rec.ID,
			Name:         rec.Name,
			Taken:        counts[doseevent.StatusTaken],
			Missed:       counts[doseevent.StatusMissed],
			Pending:      counts[doseevent.StatusPending] + counts[doseevent.StatusFired],
		}
		entry.Rate, entry.Counted = adherence(entry.Taken, entry.Missed)
		totalTaken += entry.Taken
		totalMissed += entry.Missed
		report.Medications = append(report.Medications, entry)
	}
	report.Overall, report.Counted = adherence(totalTaken, totalMissed)
	return report, nil
}

// adherence is taken/(taken+missed).  Doses still pending or cancelled are
// outside the denominator.
func adherence(taken, missed int) (float64, bool) {
	denom := taken + missed
	if denom == 0 {
		return 0, false
	}
	return float64(taken) / float64(denom), true
}
