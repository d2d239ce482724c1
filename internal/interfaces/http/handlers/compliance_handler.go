package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/medimorph/medimorph/internal/compliance"
	"github.com/medimorph/medimorph/internal/infrastructure/database/redis"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// ComplianceHandler serves adherence reports.  Reports are cached per
// user and window because building one walks the full event history.
type ComplianceHandler struct {
	tracker *compliance.Tracker
	cache   *redis.Cache
	logger  logging.Logger
}

func NewComplianceHandler(tracker *compliance.Tracker, cache *redis.Cache, logger logging.Logger) *ComplianceHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ComplianceHandler{
		tracker: tracker,
		cache:   cache,
		logger:  logger.Named("compliance_handler"),
	}
}

// Report returns the caller's adherence over the requested window (days
// query parameter, default 7, max 90).
func (h *ComplianceHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	if days > 90 {
		days = 90
	}

	load := func(ctx context.Context) (interface{}, error) {
		return h.tracker.BuildReport(ctx, userID, days)
	}

	if h.cache == nil {
		report, err := load(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	var report compliance.Report
	key := reportCacheKey(userID, days)
	if err := h.cache.GetOrSet(r.Context(), key, &report, load); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &report)
}

func reportCacheKey(userID common.UserID, days int) string {
	return fmt.Sprintf("compliance:report:%s:%d", userID, days)
}
