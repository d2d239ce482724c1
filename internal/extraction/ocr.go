package extraction

import "context"

// Engine is the OCR port.  Implementations wrap an external recognition
// service; the pipeline only ever sees the RawOCRResult.
type Engine interface {
	// Recognize extracts text from an image.  mime is the content type of
	// the image bytes (image/png, image/jpeg, application/pdf).
	Recognize(ctx context.Context, image []byte, mime string) (RawOCRResult, error)
}
