package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/internal/infrastructure/buffer"
	"github.com/fastygo/tenantauth/usecase"
)

// ProcessorConfig controls how frequently the outbox is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// MaxAge discards items enqueued longer ago than this, delivered or not.
	MaxAge time.Duration
	Now    func() time.Time
}

// OutboxProcessor delivers outbox items through handlers registered on the
// dispatcher under "outbox.<kind>".
type OutboxProcessor struct {
	store      *buffer.Store
	dispatcher *usecase.Dispatcher
	logger     *zap.Logger
	cron       *cron.Cron
	cfg        ProcessorConfig
}

func NewOutboxProcessor(store *buffer.Store, dispatcher *usecase.Dispatcher, logger *zap.Logger, cfg ProcessorConfig) *OutboxProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = cfg.Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = usecase.NewDispatcher()
	}

	op := &OutboxProcessor{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		cron:       cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = op.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := op.Drain(ctx); err != nil {
			op.logger.Error("outbox drain failed", zap.Error(err))
		}
	})

	return op
}

// CommandName is the dispatcher command that delivers items of kind.
func CommandName(kind string) string {
	return "outbox." + kind
}

// Start launches the cron scheduler.
func (op *OutboxProcessor) Start() {
	if op == nil || op.cron == nil {
		return
	}
	op.cron.Start()
	op.logger.Info("outbox processor started")
}

// Stop gracefully stops the scheduler.
func (op *OutboxProcessor) Stop(ctx context.Context) {
	if op == nil || op.cron == nil {
		return
	}
	stopCtx := op.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	op.logger.Info("outbox processor stopped")
}

// Enqueue persists item for delivery on the next drain.
func (op *OutboxProcessor) Enqueue(item buffer.Item) error {
	if op == nil || op.store == nil {
		return fmt.Errorf("outbox processor not configured")
	}
	return op.store.Enqueue(item)
}

// Drain delivers due items synchronously. Failed items are retried with
// exponential backoff and dropped after MaxRetries attempts.
func (op *OutboxProcessor) Drain(ctx context.Context) error {
	if op == nil || op.store == nil {
		return nil
	}

	now := op.cfg.Now()
	if op.cfg.MaxAge > 0 {
		if err := op.store.Cleanup(now.Add(-op.cfg.MaxAge)); err != nil {
			op.logger.Warn("outbox cleanup failed", zap.Error(err))
		}
	}
	items, err := op.store.GetBatch(op.cfg.BatchSize, now)
	if err != nil {
		return err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := op.logger.With(
			zap.String("item_id", item.ID),
			zap.String("kind", item.Kind),
			zap.String("tenant_id", item.TenantID))

		if _, err := op.dispatcher.ExecuteCommand(ctx, CommandName(item.Kind), item); err != nil {
			item.Retries++
			item.LastError = err.Error()
			if item.Retries >= op.cfg.MaxRetries {
				log.Warn("dropping outbox item (max retries reached)", zap.Int("retries", item.Retries), zap.Error(err))
				_ = op.store.Remove(item)
				continue
			}
			log.Error("outbox delivery failed", zap.Int("retries", item.Retries), zap.Error(err))
			if err := op.store.Requeue(item, now.Add(op.backoff(item.Retries))); err != nil {
				log.Error("failed to requeue outbox item", zap.Error(err))
			}
			continue
		}

		if err := op.store.Remove(item); err != nil {
			log.Warn("failed to purge delivered outbox item", zap.Error(err))
		}
	}
	return nil
}

// Size returns the number of pending items.
func (op *OutboxProcessor) Size() int {
	if op == nil || op.store == nil {
		return 0
	}
	size, err := op.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (op *OutboxProcessor) backoff(retries int) time.Duration {
	delay := op.cfg.Backoff
	for i := 1; i < retries && delay < time.Hour; i++ {
		delay *= 2
	}
	return delay
}
