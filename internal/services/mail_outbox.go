package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/infrastructure/buffer"
	"github.com/fastygo/tenantauth/usecase"
)

// Sender performs the actual email delivery.
type Sender interface {
	Send(ctx context.Context, msg domain.EmailMessage) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg domain.EmailMessage) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email dispatched",
		zap.String("tenant_id", msg.TenantID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// MailOutbox implements usecase.Mailer by persisting messages to the
// outbox. Send never waits for delivery.
type MailOutbox struct {
	processor *OutboxProcessor
}

func NewMailOutbox(processor *OutboxProcessor) *MailOutbox {
	return &MailOutbox{processor: processor}
}

func (m *MailOutbox) Send(_ context.Context, msg domain.EmailMessage) error {
	if m.processor == nil {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.processor.Enqueue(buffer.Item{
		TenantID: msg.TenantID,
		Kind:     buffer.KindEmail,
		Data:     payload,
		Priority: 2,
	})
}

// RegisterEmailSender wires sender as the delivery handler for email items.
func RegisterEmailSender(dispatcher *usecase.Dispatcher, sender Sender) {
	dispatcher.RegisterCommand(CommandName(buffer.KindEmail), func(ctx context.Context, payload interface{}) (interface{}, error) {
		item, ok := payload.(buffer.Item)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T", payload)
		}
		var msg domain.EmailMessage
		if err := json.Unmarshal(item.Data, &msg); err != nil {
			return nil, err
		}
		return nil, sender.Send(ctx, msg)
	})
}

var _ usecase.Mailer = (*MailOutbox)(nil)
