package doseevent

import (
	"context"
	"time"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// StatusCounts aggregates event counts per status for adherence math.
type StatusCounts map[Status]int

// Repository is the persistence port for dose events.  Implementations must
// make UpdateStatusIf an atomic compare-and-set: of any number of racers
// moving the same event out of the same state, exactly one observes
// applied=true.
type Repository interface {
	// CreateBatch inserts events in one transaction.  Inserting a duplicate
	// (medication_id, scheduled_at) pair is a conflict error.
	CreateBatch(ctx context.Context, events []*DoseEvent) error

	GetByID(ctx context.Context, id common.ID) (*DoseEvent, error)

	// UpdateStatusIf transitions the event from expected to next only if it
	// is still in expected.  It reports whether the write applied; a false
	// return with nil error means a racer won and the caller should treat
	// the collision as benign.
	UpdateStatusIf(ctx context.Context, id common.ID, expected, next Status) (bool, error)

	// MarkDeliveryDegraded flags an event whose reminder permanently failed
	// to dispatch.  The status is left untouched.
	MarkDeliveryDegraded(ctx context.Context, id common.ID) error

	// ListDuePending returns pending events in the given partitions with
	// scheduled_at <= before, ordered by scheduled_at then id.
	ListDuePending(ctx context.Context, partitions []int, before time.Time, limit int) ([]*DoseEvent, error)

	// ListExpiredFired returns fired events in the given partitions whose
	// fired_at is older than firedBefore, ordered by fired_at then id.
	ListExpiredFired(ctx context.Context, partitions []int, firedBefore time.Time, limit int) ([]*DoseEvent, error)

	// ListPending returns every pending event in the given partitions; the
	// scheduler rebuilds its heap from this at startup and after
	// cancellation storms.
	ListPending(ctx context.Context, partitions []int) ([]*DoseEvent, error)

	// ListUpcoming returns a user's pending and fired events in
	// [from, to), ordered by scheduled_at.
	ListUpcoming(ctx context.Context, userID common.UserID, from, to time.Time) ([]*DoseEvent, error)

	// ListByMedication returns all events for a medication within
	// [from, to), most recent first, bounded by page.
	ListByMedication(ctx context.Context, medicationID common.ID, from, to time.Time, page common.Pagination) ([]*DoseEvent, error)

	// CancelPending compare-and-sets every still-pending event of the
	// medication to cancelled and returns the ids it reaped.  Events in any
	// other state are untouched.
	CancelPending(ctx context.Context, medicationID common.ID) ([]common.ID, error)

	// CountByStatus tallies a medication's events per status over
	// [from, to) of scheduled_at.
	CountByStatus(ctx context.Context, medicationID common.ID, from, to time.Time) (StatusCounts, error)
}
