package scheduling

import (
	"context"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Lease serialises partition sweeps across scheduler instances.  At most
// one instance holds a given partition at a time; implementations back this
// with an expiring distributed lock.
type Lease interface {
	// TryAcquire claims a partition.  false with nil error means another
	// instance holds it.
	TryAcquire(ctx context.Context, partition int) (bool, error)
	// Extend refreshes the TTL of a held partition.  false means the lease
	// was lost and the partition must not be swept.
	Extend(ctx context.Context, partition int) (bool, error)
	// Release gives the partition up.
	Release(ctx context.Context, partition int) error
}

// DispatchEnqueuer accepts a fired event for delivery.  Implementations
// persist an outbox row in the same logical step; delivery itself is
// asynchronous and at-least-once.
type DispatchEnqueuer interface {
	Enqueue(ctx context.Context, event *doseevent.DoseEvent) error
}

// Metrics records scheduler telemetry.
type Metrics interface {
	RecordSweep(partition int, fired, missed int, duration time.Duration)
	RecordSweepDegraded(partition int)
	RecordLeaseLost(partition int)
}

type noopSchedMetrics struct{}

func (noopSchedMetrics) RecordSweep(int, int, int, time.Duration) {}
func (noopSchedMetrics) RecordSweepDegraded(int)                  {}
func (noopSchedMetrics) RecordLeaseLost(int)                      {}

// SchedulerConfig tunes the sweep loop.
type SchedulerConfig struct {
	TickInterval time.Duration
	GraceWindow  time.Duration
	Partitions   int
	BatchSize    int
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval: 30 * time.Second,
		GraceWindow:  time.Hour,
		Partitions:   16,
		BatchSize:    500,
	}
}

// Scheduler owns the reminder tick loop.  Durable event rows are the ground
// truth; the in-memory heap only decides when to wake early.  Every
// transition is a compare-and-set so a second instance racing over the same
// partition cannot double fire.
type Scheduler struct {
	events     doseevent.Repository
	lease      Lease
	dispatcher DispatchEnqueuer
	cfg        SchedulerConfig
	metrics    Metrics
	logger     logging.Logger

	heap *scheduleHeap
	held map[int]bool
	now  func() time.Time

	wake chan struct{}
}

// NewScheduler wires a scheduler instance.
func NewScheduler(events doseevent.Repository, lease Lease, dispatcher DispatchEnqueuer, cfg SchedulerConfig, metrics Metrics, logger logging.Logger) (*Scheduler, error) {
	if events == nil || lease == nil || dispatcher == nil {
		return nil, errors.InvalidParam("scheduler requires events, lease, and dispatcher")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultSchedulerConfig().TickInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultSchedulerConfig().GraceWindow
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultSchedulerConfig().Partitions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	if metrics == nil {
		metrics = noopSchedMetrics{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		events:     events,
		lease:      lease,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.Named("scheduler"),
		heap:       newScheduleHeap(),
		held:       make(map[int]bool),
		now:        func() time.Time { return time.Now().UTC() },
		wake:       make(chan struct{}, 1),
	}, nil
}

// EventsCancelled implements medication.CancelNotifier: reaped events leave
// the wakeup cache immediately.  Their rows are already cancelled, so even
// a stale cache entry would only cost a benign failed compare-and-set.
func (s *Scheduler) EventsCancelled(medicationID common.ID, _ []common.ID) {
	s.heap.RemoveMedication(medicationID)
}

// EventsScheduled feeds freshly created events into the wakeup cache.
func (s *Scheduler) EventsScheduled(events []*doseevent.DoseEvent) {
	for _, e := range events {
		s.heap.Add(e)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the tick loop until ctx is cancelled.  It acquires whatever
// partitions are free, sweeps them every tick, and wakes early when the
// heap says a dose is due sooner.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.rebuildHeap(ctx); err != nil {
		s.logger.Warn("heap rebuild failed at startup, continuing on ticks only",
			logging.Err(err))
	}

	defer s.releaseAll()

	for {
		s.Tick(ctx)

		wait := s.cfg.TickInterval
		if next, ok := s.heap.NextDue(); ok {
			if until := next.Sub(s.now()); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Tick attempts every partition once: acquire or extend its lease, then
// sweep it.  Exported so the worker command and tests can drive single
// steps.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	// Drain the cache of everything due; the repository query below is the
	// authority, this just trims the heap.
	s.heap.PopDue(now)

	for p := 0; p < s.cfg.Partitions; p++ {
		if !s.ensureLease(ctx, p) {
			continue
		}
		s.sweepPartition(ctx, p, now)
	}
}

func (s *Scheduler) ensureLease(ctx context.Context, partition int) bool {
	if s.held[partition] {
		ok, err := s.lease.Extend(ctx, partition)
		if err != nil {
			s.logger.Warn("lease extend failed",
				logging.Int("partition", partition), logging.Err(err))
			return false
		}
		if !ok {
			s.held[partition] = false
			s.metrics.RecordLeaseLost(partition)
			s.logger.Warn("lease lost", logging.Int("partition", partition))
			return false
		}
		return true
	}

	ok, err := s.lease.TryAcquire(ctx, partition)
	if err != nil {
		s.logger.Warn("lease acquire failed",
			logging.Int("partition", partition), logging.Err(err))
		return false
	}
	s.held[partition] = ok
	return ok
}

// sweepPartition fires due pending events and expires stale fired ones.
// Individual failures are logged and skipped; one broken row never stalls
// the partition.
func (s *Scheduler) sweepPartition(ctx context.Context, partition int, now time.Time) {
	start := s.now()
	parts := []int{partition}
	fired, missed := 0, 0

	due, err := s.events.ListDuePending(ctx, parts, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("listing due events failed",
			logging.Int("partition", partition), logging.Err(err))
	}
	for _, e := range due {
		applied, err := s.events.UpdateStatusIf(ctx, e.ID, doseevent.StatusPending, doseevent.StatusFired)
		if err != nil {
			s.logger.Error("firing event failed",
				logging.String("event_id", string(e.ID)), logging.Err(err))
			continue
		}
		if !applied {
			// A racer fired or cancelled it first.
			continue
		}
		fired++
		s.heap.Remove(e.ID)
		if err := s.dispatcher.Enqueue(ctx, e); err != nil {
			// The event stays fired; the outbox drain retries delivery.
			s.logger.Error("dispatch enqueue failed",
				logging.String("event_id", string(e.ID)), logging.Err(err))
		}
	}

	expired, err := s.events.ListExpiredFired(ctx, parts, now.Add(-s.cfg.GraceWindow), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("listing expired events failed",
			logging.Int("partition", partition), logging.Err(err))
	}
	for _, e := range expired {
		applied, err := s.events.UpdateStatusIf(ctx, e.ID, doseevent.StatusFired, doseevent.StatusMissed)
		if err != nil {
			s.logger.Error("expiring event failed",
				logging.String("event_id", string(e.ID)), logging.Err(err))
			continue
		}
		if applied {
			missed++
		}
	}

	elapsed := s.now().Sub(start)
	s.metrics.RecordSweep(partition, fired, missed, elapsed)
	if elapsed > s.cfg.TickInterval/2 {
		s.metrics.RecordSweepDegraded(partition)
		s.logger.Warn("sweep exceeded half the tick interval",
			logging.Int("partition", partition),
			logging.Duration("elapsed", elapsed),
			logging.Int("fired", fired),
			logging.Int("missed", missed))
	}
}

func (s *Scheduler) rebuildHeap(ctx context.Context) error {
	all := make([]int, 0, s.cfg.Partitions)
	for p := 0; p < s.cfg.Partitions; p++ {
		all = append(all, p)
	}
	pending, err := s.events.ListPending(ctx, all)
	if err != nil {
		return err
	}
	s.heap.Reset(pending)
	return nil
}

func (s *Scheduler) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for p, held := range s.held {
		if !held {
			continue
		}
		if err := s.lease.Release(ctx, p); err != nil {
			s.logger.Warn("lease release failed",
				logging.Int("partition", p), logging.Err(err))
		}
	}
}
