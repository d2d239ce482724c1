package notification

import (
	"context"
	"encoding/json"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// Enqueuer turns a freshly fired dose event into a durable outbox row.  It
// plugs into the scheduler as its dispatch port.
type Enqueuer struct {
	outbox      OutboxRepository
	medications medication.Repository
	logger      logging.Logger
}

func NewEnqueuer(outbox OutboxRepository, medications medication.Repository, logger logging.Logger) *Enqueuer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Enqueuer{
		outbox:      outbox,
		medications: medications,
		logger:      logger.Named("notification"),
	}
}

// Enqueue resolves the medication behind the event and writes the reminder
// payload to the outbox.  The payload is snapshotted here so a later edit
// or delete of the medication cannot change an already-fired reminder.
func (e *Enqueuer) Enqueue(ctx context.Context, event *doseevent.DoseEvent) error {
	payload := ReminderPayload{
		EventID:       event.ID,
		MedicationID:  event.MedicationID,
		UserID:        event.UserID,
		ScheduledTime: event.ScheduledAt.UTC(),
		Status:        string(event.Status),
	}

	rec, err := e.medications.GetByID(ctx, event.MedicationID)
	switch {
	case err == nil:
		payload.MedicationName = rec.Name
		payload.Dosage = rec.Dosage
	case errors.IsNotFound(err):
		// Medication removed between firing and enqueueing; deliver what
		// the event alone can say.
		e.logger.Warn("medication missing for fired event",
			logging.String("event_id", string(event.ID)),
			logging.String("medication_id", string(event.MedicationID)))
	default:
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "load medication for reminder")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal reminder payload")
	}
	msg := NewOutboxMessage(event.ID, event.UserID, body)
	if err := e.outbox.Enqueue(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "enqueue reminder")
	}
	e.logger.Debug("reminder enqueued",
		logging.String("event_id", string(event.ID)),
		logging.String("user_id", string(event.UserID)))
	return nil
}
