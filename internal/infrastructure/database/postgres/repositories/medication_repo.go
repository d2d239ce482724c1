package repositories

import (
	"context"
	"database/sql"

	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

const medicationColumns = `id, user_id, name, dosage, frequency, duration_days,
	start_date, status, schedule_state, source, confidence, created_at, updated_at`

// MedicationRepository is the PostgreSQL implementation of
// medication.Repository.
type MedicationRepository struct {
	db     *sql.DB
	logger logging.Logger
}

func NewMedicationRepository(db *sql.DB, logger logging.Logger) *MedicationRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MedicationRepository{db: db, logger: logger.Named("medication_repo")}
}

// Create inserts a record.  A second active record with the same name for
// the same user trips the partial unique index and maps to a conflict.
func (r *MedicationRepository) Create(ctx context.Context, rec *medication.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO medications (
			id, user_id, name, dosage, frequency, duration_days,
			start_date, status, schedule_state, source, confidence,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.UserID, rec.Name, rec.Dosage, rec.Frequency, rec.DurationDays,
		rec.StartDate, rec.Status, rec.ScheduleState, rec.Source, rec.Confidence,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "medications_user_active_name_idx") {
			return errors.New(errors.ErrCodeMedicationExists, "an active medication with this name already exists")
		}
		r.logger.Error("insert medication", logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert medication")
	}
	return nil
}

func (r *MedicationRepository) GetByID(ctx context.Context, id common.ID) (*medication.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE id = $1`, id)
	rec, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load medication")
	}
	return rec, nil
}

func (r *MedicationRepository) GetActiveByName(ctx context.Context, userID common.UserID, name string) (*medication.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+medicationColumns+` FROM medications
		 WHERE user_id = $1 AND lower(name) = lower($2) AND status = 'active'`,
		userID, name)
	rec, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load medication")
	}
	return rec, nil
}

func (r *MedicationRepository) ListByUser(ctx context.Context, userID common.UserID, includeArchived bool, page common.Pagination) ([]*medication.Record, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE user_id = $1`
	if !includeArchived {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY (status = 'active') DESC, created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, page.Limit(), page.Offset())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list medications")
	}
	defer rows.Close()

	var out []*medication.Record
	for rows.Next() {
		rec, err := scanMedication(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan medication")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *MedicationRepository) Update(ctx context.Context, rec *medication.Record) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE medications SET
			name = $2, dosage = $3, frequency = $4, duration_days = $5,
			start_date = $6, status = $7, schedule_state = $8,
			confidence = $9, updated_at = $10
		WHERE id = $1`,
		rec.ID, rec.Name, rec.Dosage, rec.Frequency, rec.DurationDays,
		rec.StartDate, rec.Status, rec.ScheduleState, rec.Confidence, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "medications_user_active_name_idx") {
			return errors.New(errors.ErrCodeMedicationExists, "an active medication with this name already exists")
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update medication")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	return nil
}

func (r *MedicationRepository) Delete(ctx context.Context, id common.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM medications WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete medication")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	return nil
}

func scanMedication(s scanner) (*medication.Record, error) {
	var rec medication.Record
	err := s.Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Dosage, &rec.Frequency,
		&rec.DurationDays, &rec.StartDate, &rec.Status, &rec.ScheduleState,
		&rec.Source, &rec.Confidence, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.StartDate = rec.StartDate.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
