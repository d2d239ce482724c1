package prescription

import (
	"context"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// Repository persists uploads.  Mentions and audits travel with the row as
// documents; they are read-mostly and never queried field by field.
type Repository interface {
	Create(ctx context.Context, u *Upload) error
	GetByID(ctx context.Context, id common.ID) (*Upload, error)
	ListByUser(ctx context.Context, userID common.UserID, page common.Pagination) ([]*Upload, error)
	Update(ctx context.Context, u *Upload) error
}

// ImageStore keeps the original prescription images.  The object key is
// chosen by the caller and stored on the Upload.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// PresignGet returns a short-lived URL for viewing the original image.
	PresignGet(ctx context.Context, key string) (string, error)
}
