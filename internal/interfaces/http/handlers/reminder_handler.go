package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimorph/medimorph/internal/compliance"
	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// ReminderHandler serves the upcoming-reminder read model and dose
// actions.
type ReminderHandler struct {
	events  doseevent.Repository
	tracker *compliance.Tracker
	logger  logging.Logger
	now     func() time.Time
}

func NewReminderHandler(events doseevent.Repository, tracker *compliance.Tracker, logger logging.Logger) *ReminderHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ReminderHandler{
		events:  events,
		tracker: tracker,
		logger:  logger.Named("reminder_handler"),
		now:     time.Now,
	}
}

// ListUpcoming returns the caller's pending and fired doses inside the
// requested window (hours query parameter, default 24, max one week).
func (h *ReminderHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	if hours > 168 {
		hours = 168
	}

	now := h.now().UTC()
	events, err := h.events.ListUpcoming(r.Context(), userID, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reminders": events})
}

type actionRequest struct {
	Action string `json:"action"`
}

// Action records a taken or skipped dose.  Repeating an action the event
// already reflects succeeds without effect.
func (h *ReminderHandler) Action(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	event, err := h.tracker.RecordAction(r.Context(), userID, common.ID(chi.URLParam(r, "eventID")), compliance.Action(req.Action))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
