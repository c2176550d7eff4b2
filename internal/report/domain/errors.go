package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not_found")
	ErrPreconditionFailed = errors.New("precondition_failed")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = fmt.Errorf("already_exists: %w", ErrConflict)
	ErrUpstreamFailure    = errors.New("upstream_failure")
	ErrFatal              = errors.New("fatal")

	ErrInvalidReportID      = errors.New("invalid_report_id")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidKind          = errors.New("invalid_kind")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidRecord        = errors.New("invalid_record")
	ErrInvalidDeclaration   = errors.New("invalid_declaration")
	ErrInvalidSignatureType = errors.New("invalid_signature_type")
	ErrInvalidPageToken     = errors.New("invalid_page_token")

	ErrInvalidCorrectionReason = errors.New("invalid_correction_reason")

	ErrReportNotFound = fmt.Errorf("report %w", ErrNotFound)
	ErrClientNotFound = fmt.Errorf("client %w", ErrNotFound)
)

// IsInputError reports whether err is caused by a malformed request.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrInvalidReportID,
		ErrInvalidClient,
		ErrInvalidKind,
		ErrInvalidPeriod,
		ErrInvalidRecord,
		ErrInvalidDeclaration,
		ErrInvalidSignatureType,
		ErrInvalidPageToken,
		ErrInvalidCorrectionReason,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TransitionError is returned when an operation is attempted from a status
// outside its allowed set.
type TransitionError struct {
	Op       Operation
	Current  Status
	Required []Status
	Message  string
}

func (e *TransitionError) Error() string {
	required := make([]string, 0, len(e.Required))
	for _, s := range e.Required {
		required = append(required, string(s))
	}
	msg := fmt.Sprintf("%s: report is %s, requires %s", e.Op, e.Current, strings.Join(required, "|"))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrPreconditionFailed }

// Upstream error categories.
const (
	CategoryTimeout     = "timeout"
	CategoryUnavailable = "unavailable"
	CategoryRejected    = "rejected"
	CategoryInvalid     = "invalid_response"
	CategoryInternal    = "internal"
)

// UpstreamError wraps a failure of an external collaborator.
type UpstreamError struct {
	Provider  string
	Category  string
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Provider, e.Category)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Category, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamFailure}
	}
	return []error{ErrUpstreamFailure, e.Err}
}

// NewUpstreamError builds an UpstreamError; timeouts and unavailability are retryable.
func NewUpstreamError(provider, category string, err error) *UpstreamError {
	return &UpstreamError{
		Provider:  provider,
		Category:  category,
		Retryable: category == CategoryTimeout || category == CategoryUnavailable,
		Err:       err,
	}
}

// IsRetryable reports whether err is an upstream failure worth retrying.
func IsRetryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable
	}
	return false
}
