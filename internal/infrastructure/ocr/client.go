// Package ocr wraps the external text-recognition service behind the
// extraction engine port.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/extraction"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// Client calls a remote OCR service over HTTP.  It implements
// extraction.Engine.
type Client struct {
	endpoint string
	http     *http.Client
	logger   logging.Logger
}

// NewClient builds the OCR client.
func NewClient(cfg config.OCRConfig, logger logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidParam("ocr endpoint required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.Named("ocr"),
	}, nil
}

// Recognize posts the image and decodes the recognized text with
// per-token confidences.
func (c *Client) Recognize(ctx context.Context, image []byte, mime string) (extraction.RawOCRResult, error) {
	if len(image) == 0 {
		return extraction.RawOCRResult{}, errors.InvalidParam("empty image")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return extraction.RawOCRResult{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to build ocr request")
	}
	req.Header.Set("Content-Type", mime)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return extraction.RawOCRResult{}, errors.Wrap(err, errors.ErrCodeOCRFailed, "ocr request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return extraction.RawOCRResult{}, errors.New(errors.ErrCodeOCRFailed,
			"ocr service returned "+resp.Status+": "+string(body))
	}

	var result extraction.RawOCRResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return extraction.RawOCRResult{}, errors.Wrap(err, errors.ErrCodeOCRFailed, "failed to decode ocr response")
	}

	c.logger.Debug("OCR completed",
		logging.Int("image_bytes", len(image)),
		logging.Int("text_length", len(result.Text)),
		logging.Duration("duration", time.Since(start)))
	return result, nil
}
