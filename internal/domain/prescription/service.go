package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/extraction"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Service runs the digitization pipeline: store the image, OCR it,
// normalize, extract, persist the proposal, and later turn the user's
// confirmation into medication records.
type Service struct {
	uploads     Repository
	store       ImageStore
	engine      extraction.Engine
	extractor   *extraction.Extractor
	medications *medication.Service
	logger      logging.Logger
	now         func() time.Time
}

func NewService(uploads Repository, store ImageStore, engine extraction.Engine, extractor *extraction.Extractor, medications *medication.Service, logger logging.Logger) (*Service, error) {
	if uploads == nil || store == nil || engine == nil || extractor == nil || medications == nil {
		return nil, errors.InvalidParam("prescription service requires uploads, store, engine, extractor, and medications")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		uploads:     uploads,
		store:       store,
		engine:      engine,
		extractor:   extractor,
		medications: medications,
		logger:      logger.Named("prescription"),
		now:         time.Now,
	}, nil
}

// Process ingests a prescription image for a user.  The returned Upload
// carries the extracted mentions for review; a failed OCR or extraction is
// recorded on the upload rather than lost.
func (s *Service) Process(ctx context.Context, userID common.UserID, image []byte, mimeType string) (*Upload, error) {
	if len(image) == 0 {
		return nil, errors.InvalidParam("empty image")
	}

	up := NewUpload(userID, objectKey(userID, s.now()), mimeType)
	if err := s.store.Put(ctx, up.ObjectKey, image, mimeType); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "store prescription image")
	}
	if err := s.uploads.Create(ctx, up); err != nil {
		return nil, err
	}

	raw, err := s.engine.Recognize(ctx, image, mimeType)
	if err != nil {
		return s.fail(ctx, up, errors.Wrap(err, errors.ErrCodeOCRFailed, "ocr failed"))
	}

	up.RawText = extraction.Normalize(raw)
	mentions, audits, err := s.extractor.Extract(ctx, up.RawText)
	if err != nil {
		return s.fail(ctx, up, err)
	}

	up.Mentions = mentions
	up.Audits = audits
	up.Status = StatusExtracted
	up.UpdatedAt = s.now().UTC()
	if err := s.uploads.Update(ctx, up); err != nil {
		return nil, err
	}

	s.logger.Info("prescription processed",
		logging.String("upload_id", string(up.ID)),
		logging.Int("mentions", len(mentions)),
		logging.Int("audited", len(audits)))
	return up, nil
}

// Get returns an upload, enforcing ownership.
func (s *Service) Get(ctx context.Context, userID common.UserID, id common.ID) (*Upload, error) {
	up, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if up.UserID != userID {
		return nil, errors.NotFound("upload not found")
	}
	return up, nil
}

// List returns a user's uploads, newest first.
func (s *Service) List(ctx context.Context, userID common.UserID, page common.Pagination) ([]*Upload, error) {
	return s.uploads.ListByUser(ctx, userID, page)
}

// ImageURL returns a short-lived link to the original image.
func (s *Service) ImageURL(ctx context.Context, userID common.UserID, id common.ID) (string, error) {
	up, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.store.PresignGet(ctx, up.ObjectKey)
}

// Confirm turns the user-reviewed medication parameters into medication
// records and marks the upload confirmed.  The client sends the final
// values, so any edits made during review are already applied.
func (s *Service) Confirm(ctx context.Context, userID common.UserID, id common.ID, meds []medication.CreateParams) ([]*medication.Record, error) {
	up, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if up.Status == StatusConfirmed {
		return nil, errors.Conflict("upload already confirmed")
	}
	if up.Status != StatusExtracted {
		return nil, errors.Conflict(fmt.Sprintf("upload is %s, not ready for confirmation", up.Status))
	}
	if len(meds) == 0 {
		return nil, errors.InvalidParam("nothing to confirm")
	}

	records := make([]*medication.Record, 0, len(meds))
	for _, params := range meds {
		params.Source = medication.SourceOCR
		rec, err := s.medications.Create(ctx, userID, params)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	up.Status = StatusConfirmed
	up.UpdatedAt = s.now().UTC()
	if err := s.uploads.Update(ctx, up); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) fail(ctx context.Context, up *Upload, cause error) (*Upload, error) {
	up.Status = StatusFailed
	up.FailureReason = cause.Error()
	up.UpdatedAt = s.now().UTC()
	if err := s.uploads.Update(ctx, up); err != nil {
		s.logger.Error("failed to record upload failure", logging.Err(err),
			logging.String("upload_id", string(up.ID)))
	}
	return up, cause
}

func objectKey(userID common.UserID, now time.Time) string {
	return fmt.Sprintf("prescriptions/%s/%s/%s", userID, now.UTC().Format("2006/01"), common.NewID())
}
