// Package middleware holds the HTTP middleware chain: identity
// resolution, request logging, and metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// contextKey is unexported to prevent collisions with other packages.
type contextKey int

const userIDContextKey contextKey = iota

// IdentityHeader carries the user id verified by the edge gateway.  Token
// verification itself happens upstream; this service trusts the header.
const IdentityHeader = "X-User-ID"

// CurrentUserID returns the authenticated user for the request, if any.
func CurrentUserID(ctx context.Context) (common.UserID, bool) {
	id, ok := ctx.Value(userIDContextKey).(common.UserID)
	return id, ok && id != ""
}

// WithUserID injects an identity into the context.  Tests and internal
// callers use it to impersonate a user.
func WithUserID(ctx context.Context, userID common.UserID) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// AuthConfig holds identity middleware settings.
type AuthConfig struct {
	// SkipPaths bypass identity resolution entirely.
	SkipPaths []string
}

// AuthMiddleware resolves the caller's identity from the verified header
// and rejects API requests that carry none.
type AuthMiddleware struct {
	skip   map[string]bool
	logger logging.Logger
}

// NewAuthMiddleware creates the identity middleware.
func NewAuthMiddleware(cfg AuthConfig, logger logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	return &AuthMiddleware{skip: skip, logger: logger.Named("auth")}
}

// Handler enforces that requests carry a non-empty identity header.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		userID := strings.TrimSpace(r.Header.Get(IdentityHeader))
		if userID == "" {
			m.logger.Debug("Request without identity rejected",
				logging.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    "COMMON_003",
				"message": "missing identity",
			})
			return
		}

		ctx := WithUserID(r.Context(), common.UserID(userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
