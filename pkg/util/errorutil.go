package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/integration-service/internal/domain"
)

// DomainError standardizes application errors. Code carries a domain.ErrorKind
// for integration failures and an HTTP-surface code otherwise.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Kind returns the integration error kind encoded in Code.
func (e *DomainError) Kind() domain.ErrorKind {
	switch kind := domain.ErrorKind(e.Code); kind {
	case domain.ErrorKindConfiguration,
		domain.ErrorKindValidation,
		domain.ErrorKindTransientNetwork,
		domain.ErrorKindTimeout,
		domain.ErrorKindPermanentRejection,
		domain.ErrorKindUnmappableStatus,
		domain.ErrorKindPartialSuccess:
		return kind
	}
	return domain.ErrorKindInternal
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(string(domain.ErrorKindValidation), message, http.StatusBadRequest, details)
}

func NewConfigurationError(message string, details map[string]any) error {
	return NewDomainError(string(domain.ErrorKindConfiguration), message, http.StatusInternalServerError, details)
}

// NewTransientError wraps a retryable failure that exhausted its retry budget.
func NewTransientError(message string, err error) error {
	return &DomainError{
		Code:       string(domain.ErrorKindTransientNetwork),
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewTimeout(message string, err error) error {
	return &DomainError{
		Code:       string(domain.ErrorKindTimeout),
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// NewPermanentRejection reports a non-retryable partner response.
func NewPermanentRejection(message string, upstreamStatus int) error {
	details := map[string]any{}
	if upstreamStatus > 0 {
		details["upstream_status"] = upstreamStatus
	}
	return NewDomainError(string(domain.ErrorKindPermanentRejection), message, http.StatusBadGateway, details)
}

func NewUnmappableStatus(platform domain.Platform, native string) error {
	return NewDomainError(
		string(domain.ErrorKindUnmappableStatus),
		fmt.Sprintf("%s status %q has no local mapping", platform, native),
		http.StatusConflict,
		map[string]any{"platform": platform, "native_status": native},
	)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       string(domain.ErrorKindInternal),
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout("deadline exceeded", err).(*DomainError)
	}
	if errors.Is(err, context.Canceled) {
		return NewTimeout("request canceled", err).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// KindOf returns the error kind of err, or ErrorKindNone for nil.
func KindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindNone
	}
	return ToDomainError(err).Kind()
}

// IsKind reports whether err normalizes to kind.
func IsKind(err error, kind domain.ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatusForKind returns the status the HTTP surface uses for a failed
// facade response of the given kind.
func HTTPStatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindNone:
		return http.StatusOK
	case domain.ErrorKindValidation:
		return http.StatusBadRequest
	case domain.ErrorKindConfiguration:
		return http.StatusServiceUnavailable
	case domain.ErrorKindTransientNetwork, domain.ErrorKindPermanentRejection:
		return http.StatusBadGateway
	case domain.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorKindUnmappableStatus:
		return http.StatusConflict
	case domain.ErrorKindPartialSuccess:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}
