package usage

import (
	"errors"
	"fmt"
)

// Validation error kinds. Match with errors.Is.
var (
	ErrInvalidRecordType = errors.New("invalid record type")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrMissingRecipient  = errors.New("missing recipient")
	ErrMissingRecordID   = errors.New("missing record id")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrDateRangeTooLarge = errors.New("date range too large")
)

// ErrExportTooLarge is returned (wrapped in *ExportTooLargeError) when an
// export would exceed MaxExportRows.
var ErrExportTooLarge = errors.New("export too large")

// ValidationError is a caller-facing, non-retryable input error.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(kind error, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Message: msg}
}

func invalidf(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ExportTooLargeError carries the matching row count of a rejected export.
type ExportTooLargeError struct {
	Total int64
	Limit int64
}

func (e *ExportTooLargeError) Error() string {
	return fmt.Sprintf("Result set exceeds %d rows. Narrow filters and retry.", e.Limit)
}

func (e *ExportTooLargeError) Unwrap() error { return ErrExportTooLarge }

// IsValidation reports whether err is a caller-facing validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
