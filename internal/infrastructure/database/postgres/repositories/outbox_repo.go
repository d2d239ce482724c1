package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/notification"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// claimHold is how far ClaimDue pushes next_attempt_at forward, so a
// concurrent dispatcher instance cannot pick the same rows up while this
// one is publishing them.
const claimHold = 30 * time.Second

// OutboxRepository is the PostgreSQL implementation of
// notification.OutboxRepository.
type OutboxRepository struct {
	db     *sql.DB
	logger logging.Logger
}

func NewOutboxRepository(db *sql.DB, logger logging.Logger) *OutboxRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &OutboxRepository{db: db, logger: logger.Named("outbox_repo")}
}

// Enqueue inserts an outbox row.  The per-event unique index makes a
// re-enqueue after a crashed sweep a no-op rather than a duplicate reminder.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *notification.OutboxMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminder_outbox (
			id, event_id, user_id, payload, attempts, next_attempt_at,
			status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (event_id) DO NOTHING`,
		msg.ID, msg.EventID, msg.UserID, msg.Payload, msg.Attempts,
		msg.NextAttemptAt, msg.Status, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to enqueue reminder")
	}
	return nil
}

// ClaimDue selects due pending rows with FOR UPDATE SKIP LOCKED and holds
// them for claimHold, so two dispatchers never publish the same row at
// once.  A crashed claimant's rows simply become due again.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*notification.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE reminder_outbox SET
			next_attempt_at = $1::timestamptz + $3 * interval '1 second',
			updated_at = now()
		WHERE id IN (
			SELECT id FROM reminder_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, user_id, payload, attempts, next_attempt_at,
			status, created_at, updated_at`,
		now, limit, int(claimHold.Seconds()),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to claim outbox rows")
	}
	defer rows.Close()

	var out []*notification.OutboxMessage
	for rows.Next() {
		var m notification.OutboxMessage
		if err := rows.Scan(
			&m.ID, &m.EventID, &m.UserID, &m.Payload, &m.Attempts,
			&m.NextAttemptAt, &m.Status, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan outbox row")
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) MarkDone(ctx context.Context, id common.ID) error {
	return r.setStatus(ctx, id, notification.OutboxDone)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id common.ID) error {
	return r.setStatus(ctx, id, notification.OutboxFailed)
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id common.ID, attempts int, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminder_outbox SET attempts = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1`,
		id, attempts, nextAttemptAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to reschedule reminder")
	}
	return nil
}

func (r *OutboxRepository) setStatus(ctx context.Context, id common.ID, status notification.OutboxStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminder_outbox SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update outbox status")
	}
	return nil
}
