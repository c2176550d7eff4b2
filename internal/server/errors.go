package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/auditfile/internal/audit/domain"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// retryAfterSeconds is advertised on retryable upstream failures.
const retryAfterSeconds = 30

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.Retryable {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// inputErrors pairs each request error with the field it names.
var inputErrors = []struct {
	err   error
	field string
}{
	{reportdomain.ErrInvalidReportID, "id"},
	{reportdomain.ErrInvalidClient, "client_id"},
	{reportdomain.ErrInvalidKind, "kind"},
	{reportdomain.ErrInvalidPeriod, "period"},
	{reportdomain.ErrInvalidRecord, "record"},
	{reportdomain.ErrInvalidDeclaration, "fields"},
	{reportdomain.ErrInvalidSignatureType, "signature_type"},
	{reportdomain.ErrInvalidPageToken, "page_token"},
	{reportdomain.ErrInvalidCorrectionReason, "reason"},
	{auditdomain.ErrInvalidPageToken, "page_token"},
	{auditdomain.ErrInvalidAction, "action"},
	{auditdomain.ErrInvalidTimeRange, "since"},
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	for _, in := range inputErrors {
		if errors.Is(err, in.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors: []ValidationError{
					{Field: in.field, Code: in.err.Error(), Message: err.Error()},
				},
			}
		}
	}

	var upstream *reportdomain.UpstreamError

	switch {
	case errors.Is(err, reportdomain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, errorPayload{
			Type:    "precondition_failed",
			Message: err.Error(),
		}
	case errors.Is(err, reportdomain.ErrAlreadyExists):
		return http.StatusConflict, errorPayload{
			Type:    "already_exists",
			Message: err.Error(),
		}
	case errors.Is(err, reportdomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.As(err, &upstream):
		if upstream.Retryable {
			return http.StatusServiceUnavailable, errorPayload{
				Type:      "upstream_unavailable",
				Message:   upstream.Provider + " is unavailable",
				Retryable: true,
			}
		}
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_failure",
			Message: err.Error(),
		}
	case errors.Is(err, reportdomain.ErrFatal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "fatal",
			Message: "report moved to ERROR and must be recreated",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	return errors.Is(err, reportdomain.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// classifyErrorForLog returns the error type and code logged with the request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return "internal", code
	}
	return payload.Type, code
}
