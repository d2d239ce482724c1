package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

const doseEventColumns = `id, medication_id, user_id, scheduled_at, status,
	fired_at, acted_at, delivery_degraded, created_at, updated_at`

// DoseEventRepository is the PostgreSQL implementation of
// doseevent.Repository.  The partition column is derived from the user id
// at insert so sweep queries can filter on leased partitions with an index.
type DoseEventRepository struct {
	db         *sql.DB
	partitions int
	logger     logging.Logger
}

func NewDoseEventRepository(db *sql.DB, partitions int, logger logging.Logger) *DoseEventRepository {
	if partitions <= 0 {
		partitions = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DoseEventRepository{db: db, partitions: partitions, logger: logger.Named("doseevent_repo")}
}

func (r *DoseEventRepository) CreateBatch(ctx context.Context, events []*doseevent.DoseEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dose_events (
			id, medication_id, user_id, partition, scheduled_at, status,
			delivery_degraded, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, e := range events {
		partition := common.PartitionForUser(e.UserID, r.partitions)
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.MedicationID, e.UserID, partition, e.ScheduledAt, e.Status,
			e.DeliveryDegraded, e.CreatedAt, e.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert dose event")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit dose events")
	}
	return nil
}

func (r *DoseEventRepository) GetByID(ctx context.Context, id common.ID) (*doseevent.DoseEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+doseEventColumns+` FROM dose_events WHERE id = $1`, id)
	e, err := scanDoseEvent(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeEventNotFound, "dose event not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load dose event")
	}
	return e, nil
}

// UpdateStatusIf is the compare-and-set every status transition goes
// through.  false with a nil error means another writer got there first.
func (r *DoseEventRepository) UpdateStatusIf(ctx context.Context, id common.ID, expected, next doseevent.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dose_events SET
			status = $3,
			fired_at = CASE WHEN $3 = 'fired' THEN now() ELSE fired_at END,
			acted_at = CASE WHEN $3 IN ('taken','missed') THEN now() ELSE acted_at END,
			updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, expected, next,
	)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update dose event status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read rows affected")
	}
	return n == 1, nil
}

func (r *DoseEventRepository) MarkDeliveryDegraded(ctx context.Context, id common.ID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE dose_events SET delivery_degraded = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to flag degraded delivery")
	}
	return nil
}

func (r *DoseEventRepository) ListDuePending(ctx context.Context, partitions []int, before time.Time, limit int) ([]*doseevent.DoseEvent, error) {
	return r.list(ctx, `
		SELECT `+doseEventColumns+` FROM dose_events
		WHERE status = 'pending' AND partition = ANY($1) AND scheduled_at <= $2
		ORDER BY scheduled_at, id LIMIT $3`,
		intSlice(partitions), before, limit)
}

func (r *DoseEventRepository) ListExpiredFired(ctx context.Context, partitions []int, firedBefore time.Time, limit int) ([]*doseevent.DoseEvent, error) {
	return r.list(ctx, `
		SELECT `+doseEventColumns+` FROM dose_events
		WHERE status = 'fired' AND partition = ANY($1) AND fired_at < $2
		ORDER BY fired_at, id LIMIT $3`,
		intSlice(partitions), firedBefore, limit)
}

func (r *DoseEventRepository) ListPending(ctx context.Context, partitions []int) ([]*doseevent.DoseEvent, error) {
	return r.list(ctx, `
		SELECT `+doseEventColumns+` FROM dose_events
		WHERE status = 'pending' AND partition = ANY($1)
		ORDER BY scheduled_at, id`,
		intSlice(partitions))
}

func (r *DoseEventRepository) ListUpcoming(ctx context.Context, userID common.UserID, from, to time.Time) ([]*doseevent.DoseEvent, error) {
	return r.list(ctx, `
		SELECT `+doseEventColumns+` FROM dose_events
		WHERE user_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		  AND status IN ('pending','fired')
		ORDER BY scheduled_at, id`,
		userID, from, to)
}

func (r *DoseEventRepository) ListByMedication(ctx context.Context, medicationID common.ID, from, to time.Time, page common.Pagination) ([]*doseevent.DoseEvent, error) {
	return r.list(ctx, `
		SELECT `+doseEventColumns+` FROM dose_events
		WHERE medication_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		ORDER BY scheduled_at, id LIMIT $4 OFFSET $5`,
		medicationID, from, to, page.Limit(), page.Offset())
}

// CancelPending cancels every pending event of a medication and returns
// the ids it touched.  Fired and acted events are left alone.
func (r *DoseEventRepository) CancelPending(ctx context.Context, medicationID common.ID) ([]common.ID, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE dose_events SET status = 'cancelled', updated_at = now()
		WHERE medication_id = $1 AND status = 'pending'
		RETURNING id`,
		medicationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to cancel pending dose events")
	}
	defer rows.Close()

	var ids []common.ID
	for rows.Next() {
		var id common.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan cancelled id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DoseEventRepository) CountByStatus(ctx context.Context, medicationID common.ID, from, to time.Time) (doseevent.StatusCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, count(*) FROM dose_events
		WHERE medication_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		GROUP BY status`,
		medicationID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count dose events")
	}
	defer rows.Close()

	counts := make(doseevent.StatusCounts)
	for rows.Next() {
		var status doseevent.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan status count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *DoseEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*doseevent.DoseEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query dose events")
	}
	defer rows.Close()

	var out []*doseevent.DoseEvent
	for rows.Next() {
		e, err := scanDoseEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan dose event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanDoseEvent(s scanner) (*doseevent.DoseEvent, error) {
	var e doseevent.DoseEvent
	var firedAt, actedAt sql.NullTime
	err := s.Scan(
		&e.ID, &e.MedicationID, &e.UserID, &e.ScheduledAt, &e.Status,
		&firedAt, &actedAt, &e.DeliveryDegraded, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ScheduledAt = e.ScheduledAt.UTC()
	e.FiredAt = timePtr(firedAt)
	e.ActedAt = timePtr(actedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
