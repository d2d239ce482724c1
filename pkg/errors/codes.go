package errors

import "net/http"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_015"

	// ErrCodeInvalidParam is an alias for ErrCodeBadRequest, used by
	// parameter-validation paths such as errors.InvalidParam.
	ErrCodeInvalidParam = ErrCodeBadRequest
)

// Extraction module error codes
const (
	// ErrCodeExtractionLowConfidence marks a mention whose drug-name
	// confidence fell below the configured threshold.  Non-fatal: the
	// candidate is diverted to the audit trail, never silently discarded.
	ErrCodeExtractionLowConfidence ErrorCode = "EXT_001"

	// ErrCodeExtractionAmbiguous marks overlapping candidates that could not
	// be resolved to a single mention.  Non-fatal, surfaced for manual review.
	ErrCodeExtractionAmbiguous ErrorCode = "EXT_002"

	ErrCodeExtractionEmptyVocabulary ErrorCode = "EXT_003"
	ErrCodeOCRFailed                 ErrorCode = "EXT_004"
)

// Scheduling module error codes
const (
	// ErrCodeScheduleUnresolvable indicates a frequency or duration that the
	// compiler could not map to dose slots.  The medication record persists
	// with scheduling deferred; it is never rejected outright.
	ErrCodeScheduleUnresolvable ErrorCode = "SCHED_001"

	ErrCodeScheduleHorizonExceeded ErrorCode = "SCHED_002"
	ErrCodeLeaseNotHeld            ErrorCode = "SCHED_003"
)

// Dispatch module error codes
const (
	// ErrCodeDispatchTransient marks a delivery failure that will be retried
	// with bounded backoff.
	ErrCodeDispatchTransient ErrorCode = "DISPATCH_001"

	// ErrCodeDispatchPermanent marks a delivery failure past the retry
	// budget.  The dose event keeps its fired status and carries a
	// degraded-delivery flag; nothing is lost, only delayed.
	ErrCodeDispatchPermanent ErrorCode = "DISPATCH_002"
)

// Dose event / compliance error codes
const (
	// ErrCodeInvalidTransition rejects a status change that the dose event
	// state machine does not permit (e.g. acting on a pending event).
	ErrCodeInvalidTransition ErrorCode = "DOSE_001"

	ErrCodeMedicationNotFound ErrorCode = "DOSE_002"
	ErrCodeEventNotFound      ErrorCode = "DOSE_003"
	ErrCodeMedicationExists   ErrorCode = "DOSE_004"
)

// httpStatusByCode maps error codes to HTTP status codes for the API layer.
var httpStatusByCode = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeExtractionLowConfidence:   http.StatusUnprocessableEntity,
	ErrCodeExtractionAmbiguous:       http.StatusUnprocessableEntity,
	ErrCodeExtractionEmptyVocabulary: http.StatusInternalServerError,
	ErrCodeOCRFailed:                 http.StatusBadGateway,

	ErrCodeScheduleUnresolvable:    http.StatusUnprocessableEntity,
	ErrCodeScheduleHorizonExceeded: http.StatusUnprocessableEntity,
	ErrCodeLeaseNotHeld:            http.StatusConflict,

	ErrCodeDispatchTransient: http.StatusServiceUnavailable,
	ErrCodeDispatchPermanent: http.StatusBadGateway,

	ErrCodeInvalidTransition:  http.StatusConflict,
	ErrCodeMedicationNotFound: http.StatusNotFound,
	ErrCodeEventNotFound:      http.StatusNotFound,
	ErrCodeMedicationExists:   http.StatusConflict,
}

// HTTPStatus returns the HTTP status code associated with c, defaulting to
// 500 for unknown codes.
func (c ErrorCode) HTTPStatus() int {
	if s, ok := httpStatusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}
