package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/fastygo/tenantauth/domain"
)

// DefaultCallTimeout bounds a collaborator call when none is configured.
const DefaultCallTimeout = 3 * time.Second

// Call runs fn under a deadline derived from ctx, so cancelling the request
// also abandons the call. Deadline and cancellation failures come back as
// ServiceErrors tagged with service.
func Call(ctx context.Context, service string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return StoreError(service, timeout, fn(callCtx))
}

// StoreError converts context failures into tagged ServiceErrors and leaves
// every other error untouched.
func StoreError(service string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var sErr *domain.ServiceError
	if errors.As(err, &sErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Timeout(service, timeout, err)
	case errors.Is(err, context.Canceled):
		return &domain.ServiceError{Kind: domain.KindCanceled, Service: service, Err: err}
	default:
		return err
	}
}
