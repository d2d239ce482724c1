// Package prescription covers the digitization flow: an uploaded
// prescription image, its OCR extraction output, and the user's
// confirmation that turns extracted mentions into medication records.
package prescription

import (
	"time"

	"github.com/medimorph/medimorph/internal/extraction"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Status is the lifecycle of an upload.
//
//	processing ──▶ extracted ──▶ confirmed
//	     │
//	     └──▶ failed
type Status string

const (
	StatusProcessing Status = "processing"
	StatusExtracted  Status = "extracted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusExtracted, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Upload is one prescription image and everything extraction said about it.
// Mentions are a proposal: nothing becomes a medication until the user
// confirms.  Audits keep the below-threshold candidates visible for review.
type Upload struct {
	ID        common.ID
	UserID    common.UserID
	ObjectKey string
	MIMEType  string
	Status    Status
	// RawText is the normalized OCR text the extractor ran on.
	RawText  string
	Mentions []extraction.Mention
	Audits   []extraction.AuditEntry
	// FailureReason is set when Status is failed.
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUpload starts an upload in the processing state.
func NewUpload(userID common.UserID, objectKey, mimeType string) *Upload {
	now := time.Now().UTC()
	return &Upload{
		ID:        common.NewID(),
		UserID:    userID,
		ObjectKey: objectKey,
		MIMEType:  mimeType,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
