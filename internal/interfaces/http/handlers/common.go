// Package handlers implements the HTTP endpoints.  Each handler decodes
// the request, resolves the caller identity, delegates to a domain
// service, and maps application errors to status codes.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/medimorph/medimorph/internal/interfaces/http/middleware"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// maxBodyBytes bounds request bodies; prescription images come base64
// encoded inside JSON, so this allows a few MB of image.
const maxBodyBytes = 12 << 20

// currentUser resolves the caller or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (common.UserID, bool) {
	userID, ok := middleware.CurrentUserID(r.Context())
	if !ok {
		writeAppError(w, errors.Unauthorized("missing identity"))
		return "", false
	}
	return userID, true
}

// decodeJSON reads the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeAppError(w, errors.Wrap(err, errors.ErrCodeSerialization, "invalid request body"))
		return false
	}
	return true
}

// parsePagination reads page and page_size query parameters.
func parsePagination(r *http.Request) common.Pagination {
	p := common.Pagination{}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.PageSize = n
		}
	}
	return p
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the JSON error body, keyed by application error code.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeAppError maps application errors to status codes via their code
// table.  Server-side codes are masked so internals never leak.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := code.HTTPStatus()

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "internal server error"
	}

	writeJSON(w, status, ErrorResponse{
		Code:    string(code),
		Message: message,
	})
}
