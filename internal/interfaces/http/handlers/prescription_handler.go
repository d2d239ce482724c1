package handlers

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/domain/prescription"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// PrescriptionHandler serves prescription upload and confirmation.
type PrescriptionHandler struct {
	service *prescription.Service
	logger  logging.Logger
}

func NewPrescriptionHandler(service *prescription.Service, logger logging.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PrescriptionHandler{service: service, logger: logger.Named("prescription_handler")}
}

type uploadRequest struct {
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type"`
}

// Upload accepts a prescription image, runs the extraction pipeline, and
// returns the detected medication mentions for user review.
func (h *PrescriptionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req uploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		writeAppError(w, errors.Wrap(err, errors.ErrCodeSerialization, "image_base64 is not valid base64"))
		return
	}

	upload, err := h.service.Process(r.Context(), userID, image, req.MIMEType)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

// Get returns one upload with its extraction results.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	upload, err := h.service.Get(r.Context(), userID, common.ID(chi.URLParam(r, "uploadID")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

// List returns the caller's uploads, newest first.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	uploads, err := h.service.List(r.Context(), userID, parsePagination(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}

// ImageURL returns a short-lived presigned URL for the original image.
func (h *PrescriptionHandler) ImageURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	url, err := h.service.ImageURL(r.Context(), userID, common.ID(chi.URLParam(r, "uploadID")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type confirmMedication struct {
	Name         string  `json:"name"`
	Dosage       string  `json:"dosage"`
	Frequency    string  `json:"frequency"`
	DurationDays int     `json:"duration_days"`
	StartDate    string  `json:"start_date"`
	Confidence   float64 `json:"confidence"`
}

type confirmRequest struct {
	Medications []confirmMedication `json:"medications"`
}

// Confirm turns reviewed mentions into medication records and schedules
// their dose events.
func (h *PrescriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := make([]medication.CreateParams, 0, len(req.Medications))
	for _, m := range req.Medications {
		p := medication.CreateParams{
			Name:         m.Name,
			Dosage:       m.Dosage,
			Frequency:    common.FrequencyTag(m.Frequency),
			DurationDays: m.DurationDays,
			Confidence:   m.Confidence,
		}
		if m.StartDate != "" {
			start, err := time.Parse("2006-01-02", m.StartDate)
			if err != nil {
				writeAppError(w, errors.InvalidParam("start_date must be YYYY-MM-DD"))
				return
			}
			p.StartDate = start
		}
		params = append(params, p)
	}

	records, err := h.service.Confirm(r.Context(), userID, common.ID(chi.URLParam(r, "uploadID")), params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"medications": records})
}
