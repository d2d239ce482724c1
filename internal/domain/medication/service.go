package medication

import (
	"context"
	"fmt"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Compiler expands a record into concrete dose times.  Implemented by the
// schedule compiler; declared here so the domain does not depend on the
// scheduling package.
type Compiler interface {
	Compile(rec *Record, ref time.Time) ([]time.Time, error)
}

// CancelNotifier is told which pending events were reaped so a running
// scheduler can evict them from its heap.  Durable state is already correct
// before notification; this only tightens the cache.
type CancelNotifier interface {
	EventsCancelled(medicationID common.ID, eventIDs []common.ID)
}

type noopNotifier struct{}

func (noopNotifier) EventsCancelled(common.ID, []common.ID) {}

// CreateParams is the input for creating a record, whether manually entered
// or confirmed from an extraction mention.
type CreateParams struct {
	Name         string
	Dosage       string
	Frequency    common.FrequencyTag
	DurationDays int
	StartDate    time.Time
	Source       Source
	Confidence   float64
}

// UpdateParams carries an edit.  Nil fields are left unchanged.
type UpdateParams struct {
	Name         *string
	Dosage       *string
	Frequency    *common.FrequencyTag
	DurationDays *int
	StartDate    *time.Time
}

// Service implements the medication use cases.
type Service struct {
	repo     Repository
	events   doseevent.Repository
	compiler Compiler
	notifier CancelNotifier
	logger   logging.Logger
	now      func() time.Time
}

// NewService wires the medication service.
func NewService(repo Repository, events doseevent.Repository, compiler Compiler, notifier CancelNotifier, logger logging.Logger) (*Service, error) {
	if repo == nil || events == nil || compiler == nil {
		return nil, errors.InvalidParam("medication service requires repo, events, and compiler")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		repo:     repo,
		events:   events,
		compiler: compiler,
		notifier: notifier,
		logger:   logger.Named("medication"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create persists a new medication and compiles its dose schedule.  An
// unresolvable schedule is not fatal: the record lands with
// schedule_state=deferred and zero events.
func (s *Service) Create(ctx context.Context, userID common.UserID, p CreateParams) (*Record, error) {
	rec := NewRecord(userID, p.Name)
	rec.Dosage = p.Dosage
	rec.Frequency = p.Frequency
	if rec.Frequency == "" {
		rec.Frequency = common.FreqUnknown
	}
	rec.DurationDays = p.DurationDays
	if !p.StartDate.IsZero() {
		rec.StartDate = p.StartDate.UTC()
	}
	if p.Source != "" {
		rec.Source = p.Source
	}
	if p.Confidence > 0 {
		rec.Confidence = p.Confidence
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetActiveByName(ctx, userID, rec.Name); err == nil && existing != nil {
		return nil, errors.New(errors.ErrCodeMedicationExists,
			fmt.Sprintf("active medication %q already exists", rec.Name))
	} else if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.schedule(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns one of the user's records.
func (s *Service) Get(ctx context.Context, userID common.UserID, id common.ID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		// Do not reveal other users' record ids.
		return nil, errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	return rec, nil
}

// List returns the user's medications.
func (s *Service) List(ctx context.Context, userID common.UserID, includeArchived bool, page common.Pagination) ([]*Record, error) {
	return s.repo.ListByUser(ctx, userID, includeArchived, page)
}

// Update applies an edit, cancels every still-pending dose event, and
// regenerates the schedule from now.  Fired, taken, and missed events are
// history and stay untouched.
func (s *Service) Update(ctx context.Context, userID common.UserID, id common.ID, p UpdateParams) (*Record, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return nil, errors.Conflict("archived medications cannot be edited")
	}

	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Dosage != nil {
		rec.Dosage = *p.Dosage
	}
	if p.Frequency != nil {
		rec.Frequency = *p.Frequency
	}
	if p.DurationDays != nil {
		rec.DurationDays = *p.DurationDays
	}
	if p.StartDate != nil {
		rec.StartDate = p.StartDate.UTC()
	}
	rec.UpdatedAt = s.now()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if err := s.cancelPending(ctx, rec.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.schedule(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Archive retires the record and reaps its pending events.  History stays.
func (s *Service) Archive(ctx context.Context, userID common.UserID, id common.ID) error {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !rec.Active() {
		return nil
	}
	if err := s.cancelPending(ctx, rec.ID); err != nil {
		return err
	}
	rec.Status = StatusArchived
	rec.ScheduleState = ScheduleUnscheduled
	rec.UpdatedAt = s.now()
	return s.repo.Update(ctx, rec)
}

// Delete removes the record entirely.  Pending events are cancelled first
// so the scheduler never fires a reminder for a medication that no longer
// exists.
func (s *Service) Delete(ctx context.Context, userID common.UserID, id common.ID) error {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.cancelPending(ctx, rec.ID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, rec.ID)
}

func (s *Service) cancelPending(ctx context.Context, medicationID common.ID) error {
	cancelled, err := s.events.CancelPending(ctx, medicationID)
	if err != nil {
		return err
	}
	if len(cancelled) > 0 {
		s.notifier.EventsCancelled(medicationID, cancelled)
		s.logger.Info("cancelled pending dose events",
			logging.String("medication_id", string(medicationID)),
			logging.Int("count", len(cancelled)))
	}
	return nil
}

// schedule compiles the record and materialises dose events.  The three
// outcomes map onto the schedule states: events created, nothing to
// schedule, or compilation deferred.
func (s *Service) schedule(ctx context.Context, rec *Record) error {
	times, err := s.compiler.Compile(rec, s.now())
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeScheduleUnresolvable) {
			s.logger.Warn("schedule deferred",
				logging.String("medication_id", string(rec.ID)),
				logging.String("frequency", string(rec.Frequency)),
				logging.Err(err))
			rec.ScheduleState = ScheduleDeferred
			rec.UpdatedAt = s.now()
			return s.repo.Update(ctx, rec)
		}
		return err
	}

	if len(times) == 0 {
		rec.ScheduleState = ScheduleUnscheduled
		rec.UpdatedAt = s.now()
		return s.repo.Update(ctx, rec)
	}

	events := make([]*doseevent.DoseEvent, 0, len(times))
	for _, at := range times {
		events = append(events, doseevent.New(rec.ID, rec.UserID, at))
	}
	if err := s.events.CreateBatch(ctx, events); err != nil {
		return err
	}
	rec.ScheduleState = ScheduleScheduled
	rec.UpdatedAt = s.now()
	return s.repo.Update(ctx, rec)
}
