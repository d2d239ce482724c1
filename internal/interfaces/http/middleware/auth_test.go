package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/types/common"
)

func authChain(t *testing.T, cfg AuthConfig) (http.Handler, *common.UserID) {
	t.Helper()
	var seen common.UserID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := CurrentUserID(r.Context()); ok {
			seen = id
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return NewAuthMiddleware(cfg, logging.NewNopLogger()).Handler(inner), &seen
}

func TestAuthInjectsIdentity(t *testing.T) {
	handler, seen := authChain(t, AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications", nil)
	req.Header.Set(IdentityHeader, "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, common.UserID("alice"), *seen)
}

func TestAuthRejectsMissingIdentity(t *testing.T) {
	handler, seen := authChain(t, AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "COMMON_003")
	assert.Empty(t, *seen)
}

func TestAuthRejectsBlankIdentity(t *testing.T) {
	handler, _ := authChain(t, AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications", nil)
	req.Header.Set(IdentityHeader, "   ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthSkipPaths(t *testing.T) {
	handler, _ := authChain(t, AuthConfig{SkipPaths: []string{"/healthz"}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCurrentUserIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := CurrentUserID(req.Context())
	assert.False(t, ok)
}
