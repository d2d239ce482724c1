package medication

import (
	"context"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// Repository is the persistence port for medication records.
type Repository interface {
	// Create inserts a record.  A second active record with the same
	// (user_id, name) is a conflict error.
	Create(ctx context.Context, rec *Record) error

	GetByID(ctx context.Context, id common.ID) (*Record, error)

	// GetActiveByName finds a user's active record by exact name.
	GetActiveByName(ctx context.Context, userID common.UserID, name string) (*Record, error)

	// ListByUser returns a user's records, active first, newest first.
	ListByUser(ctx context.Context, userID common.UserID, includeArchived bool, page common.Pagination) ([]*Record, error)

	Update(ctx context.Context, rec *Record) error

	// Delete removes the record row.  Callers cancel pending dose events
	// before calling this; the service owns that ordering.
	Delete(ctx context.Context, id common.ID) error
}
