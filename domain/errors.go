package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeBadUserInput    ErrorCode = "BAD_USER_INPUT"
	ErrCodeTenantRequired  ErrorCode = "TENANT_REQUIRED"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeInternal        ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	// Fields carries per-field validation detail for BAD_USER_INPUT errors.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidInput builds a BAD_USER_INPUT error with field-level detail.
func InvalidInput(message string, fields map[string]string) *Error {
	return &Error{Code: ErrCodeBadUserInput, Message: message, Fields: fields}
}

// Common domain errors.
var (
	ErrUnauthenticated     = NewError(ErrCodeUnauthenticated, "authentication required")
	ErrInvalidCredentials  = NewError(ErrCodeUnauthenticated, "invalid email or password")
	ErrInvalidToken        = NewError(ErrCodeUnauthenticated, "invalid or expired token")
	ErrForbidden           = NewError(ErrCodeForbidden, "forbidden")
	ErrAccountInactive     = NewError(ErrCodeForbidden, "account is not active")
	ErrTenantInactive      = NewError(ErrCodeForbidden, "tenant is not active")
	ErrTenantMismatch      = NewError(ErrCodeForbidden, "tenant mismatch")
	ErrTenantRequired      = NewError(ErrCodeTenantRequired, "tenant is required")
	ErrTenantNotFound      = NewError(ErrCodeNotFound, "tenant not found")
	ErrUserNotFound        = NewError(ErrCodeNotFound, "user not found")
	ErrRoleNotFound        = NewError(ErrCodeNotFound, "role not found")
	ErrAggregateNotFound   = NewError(ErrCodeNotFound, "entity not found")
	ErrTokenNotFound       = NewError(ErrCodeNotFound, "token not found")
	ErrEmailTaken          = NewError(ErrCodeBadUserInput, "email already registered for this tenant")
	ErrRoleNameTaken       = NewError(ErrCodeBadUserInput, "role name already exists")
	ErrExternalLinked      = NewError(ErrCodeBadUserInput, "external account already linked to another user")
	ErrBuiltInRoleReadOnly = NewError(ErrCodeForbidden, "built-in roles cannot be modified")
	ErrInvalidPayload      = NewError(ErrCodeBadUserInput, "invalid payload")
	ErrRateLimited         = NewError(ErrCodeRateLimited, "too many requests")
	ErrInternal            = NewError(ErrCodeInternal, "internal server error")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the classification of err. Service failures map to
// SERVICE_UNAVAILABLE; anything unclassified is INTERNAL_SERVER_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	var sErr *ServiceError
	if errors.As(err, &sErr) {
		if sErr.Retryable() {
			return ErrCodeUnavailable
		}
	}
	return ErrCodeInternal
}

// FailureKind discriminates ServiceError variants.
type FailureKind int

const (
	KindTimeout FailureKind = iota + 1
	KindCanceled
	KindServiceFailure
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindServiceFailure:
		return "service_failure"
	default:
		return "unknown"
	}
}

// ServiceError describes a failed call to a collaborator (credential store,
// counter store, tenant directory). Only the fields relevant to Kind are set:
// Timeout for KindTimeout, Code and Path for KindServiceFailure.
type ServiceError struct {
	Kind    FailureKind
	Service string
	Timeout time.Duration
	Code    string
	Path    string
	Err     error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: timed out after %dms", e.Service, e.Timeout.Milliseconds())
	case KindCanceled:
		return fmt.Sprintf("%s: call canceled", e.Service)
	case KindServiceFailure:
		return fmt.Sprintf("%s: failure %s at %s: %v", e.Service, e.Code, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the caller may retry the operation.
func (e *ServiceError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindServiceFailure:
		return true
	default:
		return false
	}
}

// Timeout builds a KindTimeout service error.
func Timeout(service string, after time.Duration, err error) *ServiceError {
	return &ServiceError{Kind: KindTimeout, Service: service, Timeout: after, Err: err}
}

// ServiceFailure builds a KindServiceFailure service error.
func ServiceFailure(service, code, path string, err error) *ServiceError {
	return &ServiceError{Kind: KindServiceFailure, Service: service, Code: code, Path: path, Err: err}
}
