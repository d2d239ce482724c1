package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// MedicationHandler serves medication CRUD.
type MedicationHandler struct {
	service *medication.Service
	logger  logging.Logger
}

func NewMedicationHandler(service *medication.Service, logger logging.Logger) *MedicationHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MedicationHandler{service: service, logger: logger.Named("medication_handler")}
}

type createMedicationRequest struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	DurationDays int    `json:"duration_days"`
	StartDate    string `json:"start_date"`
}

// Create adds a manually entered medication and schedules its doses.
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createMedicationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := medication.CreateParams{
		Name:         req.Name,
		Dosage:       req.Dosage,
		Frequency:    common.FrequencyTag(req.Frequency),
		DurationDays: req.DurationDays,
		Source:       medication.SourceManual,
		Confidence:   1.0,
	}
	if req.StartDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			writeAppError(w, errors.InvalidParam("start_date must be YYYY-MM-DD"))
			return
		}
		params.StartDate = start
	}

	record, err := h.service.Create(r.Context(), userID, params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Get returns one medication.
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	record, err := h.service.Get(r.Context(), userID, common.ID(chi.URLParam(r, "medicationID")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// List returns the caller's medications, active first.
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"
	records, err := h.service.List(r.Context(), userID, includeArchived, parsePagination(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"medications": records})
}

type updateMedicationRequest struct {
	Name         *string `json:"name"`
	Dosage       *string `json:"dosage"`
	Frequency    *string `json:"frequency"`
	DurationDays *int    `json:"duration_days"`
	StartDate    *string `json:"start_date"`
}

// Update edits a medication.  Schedule-relevant changes regenerate the
// pending dose events.
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req updateMedicationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := medication.UpdateParams{
		Name:         req.Name,
		Dosage:       req.Dosage,
		DurationDays: req.DurationDays,
	}
	if req.Frequency != nil {
		tag := common.FrequencyTag(*req.Frequency)
		params.Frequency = &tag
	}
	if req.StartDate != nil {
		start, err := time.Parse("2006-01-02", *req.StartDate)
		if err != nil {
			writeAppError(w, errors.InvalidParam("start_date must be YYYY-MM-DD"))
			return
		}
		params.StartDate = &start
	}

	record, err := h.service.Update(r.Context(), userID, common.ID(chi.URLParam(r, "medicationID")), params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Archive retires a medication and cancels its pending doses.
func (h *MedicationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Archive(r.Context(), userID, common.ID(chi.URLParam(r, "medicationID"))); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a medication and its history.
func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, common.ID(chi.URLParam(r, "medicationID"))); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
