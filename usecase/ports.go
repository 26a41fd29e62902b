package usecase

import (
	"context"

	"github.com/fastygo/tenantauth/domain"
)

// Mailer hands messages to the email dispatcher. Implementations must not
// block on delivery; callers log failures and carry on.
type Mailer interface {
	Send(ctx context.Context, msg domain.EmailMessage) error
}

// NopMailer drops every message.
type NopMailer struct{}

func (NopMailer) Send(context.Context, domain.EmailMessage) error { return nil }
