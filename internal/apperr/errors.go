// Package apperr defines the typed domain errors surfaced by the record
// service and mapped to HTTP status codes at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Stable error codes returned to API callers.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeMissingActor       = "MISSING_USER_ID"
	CodeMissingMetrics     = "MISSING_METRICS"
	CodeInvalidDataType    = "INVALID_DATA_TYPE"
	CodeInvalidCategory    = "INVALID_METRIC_CATEGORY"
	CodeUnknownCategory    = "CATEGORY_NOT_FOUND"
	CodeUnsupportedFile    = "UNSUPPORTED_FILE_TYPE"
	CodeEmptyFile          = "EMPTY_FILE"
	CodeRecordNotFound     = "RECORD_NOT_FOUND"
	CodeMetricNotFound     = "METRIC_NOT_FOUND"
	CodeVersionNotFound    = "VERSION_NOT_FOUND"
	CodeSourceNotFound     = "SOURCE_FILE_NOT_FOUND"
	CodeActiveConflict     = "ACTIVE_RECORD_CONFLICT"
	CodeCreateFailed       = "CREATE_FAILED"
	CodeImportFailed       = "IMPORT_FAILED"
	CodeUpsertFailed       = "UPSERT_FAILED"
	CodeDeleteFailed       = "DELETE_FAILED"
	CodeRestoreFailed      = "RESTORE_FAILED"
	CodeValidateFailed     = "VALIDATION_RUN_FAILED"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeFetchFailed        = "FETCH_FAILED"
	CodeExportFailed       = "EXPORT_FAILED"
)

// Error is a domain error carrying a stable code. Details preserves the
// message of the underlying cause for internal errors.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400-class error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a 404-class error.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a 409-class error.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure under a stable code.
func Internal(code, message string, err error) *Error {
	e := &Error{Kind: KindInternal, Code: code, Message: message, Err: err}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// Wrap passes domain errors through unchanged and turns anything else into an
// internal error with the given code. A nil err returns nil.
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return Internal(code, message, err)
}

// As extracts the domain error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
