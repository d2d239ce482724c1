package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/medimorph/medimorph/internal/domain/prescription"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

const uploadColumns = `id, user_id, object_key, mime_type, status, raw_text,
	mentions, audits, failure_reason, created_at, updated_at`

// UploadRepository is the PostgreSQL implementation of
// prescription.Repository.  Mentions and audit entries are stored as jsonb
// documents on the upload row.
type UploadRepository struct {
	db     *sql.DB
	logger logging.Logger
}

func NewUploadRepository(db *sql.DB, logger logging.Logger) *UploadRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &UploadRepository{db: db, logger: logger.Named("upload_repo")}
}

func (r *UploadRepository) Create(ctx context.Context, u *prescription.Upload) error {
	mentions, audits, err := marshalExtraction(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prescription_uploads (
			id, user_id, object_key, mime_type, status, raw_text,
			mentions, audits, failure_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.UserID, u.ObjectKey, u.MIMEType, u.Status, u.RawText,
		mentions, audits, u.FailureReason, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert upload")
	}
	return nil
}

func (r *UploadRepository) GetByID(ctx context.Context, id common.ID) (*prescription.Upload, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM prescription_uploads WHERE id = $1`, id)
	u, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("upload not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load upload")
	}
	return u, nil
}

func (r *UploadRepository) ListByUser(ctx context.Context, userID common.UserID, page common.Pagination) ([]*prescription.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+uploadColumns+` FROM prescription_uploads
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, page.Limit(), page.Offset())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list uploads")
	}
	defer rows.Close()

	var out []*prescription.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan upload")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UploadRepository) Update(ctx context.Context, u *prescription.Upload) error {
	mentions, audits, err := marshalExtraction(u)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE prescription_uploads SET
			status = $2, raw_text = $3, mentions = $4, audits = $5,
			failure_reason = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Status, u.RawText, mentions, audits, u.FailureReason, u.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update upload")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("upload not found")
	}
	return nil
}

func marshalExtraction(u *prescription.Upload) ([]byte, []byte, error) {
	mentions, err := json.Marshal(u.Mentions)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal mentions")
	}
	audits, err := json.Marshal(u.Audits)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal audits")
	}
	return mentions, audits, nil
}

func scanUpload(s scanner) (*prescription.Upload, error) {
	var u prescription.Upload
	var mentions, audits []byte
	err := s.Scan(
		&u.ID, &u.UserID, &u.ObjectKey, &u.MIMEType, &u.Status, &u.RawText,
		&mentions, &audits, &u.FailureReason, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(mentions) > 0 {
		if err := json.Unmarshal(mentions, &u.Mentions); err != nil {
			return nil, err
		}
	}
	if len(audits) > 0 {
		if err := json.Unmarshal(audits, &u.Audits); err != nil {
			return nil, err
		}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
