// Package common holds the small shared value types used across MediMorph
// layers.  Domain-specific types live with their domain packages; only
// genuinely cross-cutting carriers belong here.
package common

import (
	"time"

	"github.com/google/uuid"
)

// ID is a string alias for UUID v4.
type ID string

// UserID is a string alias for a user identifier.  All medication records
// and dose events are scoped by one.
type UserID string

// NewID returns a freshly generated UUID v4 ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// Valid reports whether the ID parses as a UUID.
func (id ID) Valid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

func (id ID) String() string { return string(id) }

func (u UserID) String() string { return string(u) }

// Pagination defines parameters for paginated list requests.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total,omitempty"`
}

// Limit returns the effective page size, bounded to [1, 500].
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return 50
	case p.PageSize > 500:
		return 500
	default:
		return p.PageSize
	}
}

// Offset returns the row offset implied by Page and PageSize.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// DateRange defines a closed time interval used by adherence queries.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range (inclusive bounds).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// ErrorDetail provides structured error information for API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
