package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
)

const sweepOperation = "sweep-expired-tokens"

// TokenSweeper periodically removes expired refresh tokens and one-time
// tokens across all tenants.
type TokenSweeper struct {
	users  repository.UserRepository
	guard  *tenancy.Guard
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewTokenSweeper(users repository.UserRepository, guard *tenancy.Guard, spec string, logger *zap.Logger) (*TokenSweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	if spec == "" {
		spec = "@every 1h"
	}
	ts := &TokenSweeper{
		users:  users,
		guard:  guard,
		logger: logger,
		cron:   cron.New(),
		now:    time.Now,
	}
	if _, err := ts.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := ts.Sweep(ctx); err != nil {
			ts.logger.Error("token sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TokenSweeper) Start() {
	ts.cron.Start()
	ts.logger.Info("token sweeper started")
}

func (ts *TokenSweeper) Stop(ctx context.Context) {
	stopCtx := ts.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	ts.logger.Info("token sweeper stopped")
}

// Sweep runs one purge pass and returns the number of records removed.
func (ts *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	sys := ts.guard.Bypass(ctx, sweepOperation)
	purged, err := ts.users.PurgeExpiredTokens(ctx, sys, ts.now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		ts.logger.Info("expired tokens purged", zap.Int64("count", purged))
	}
	return purged, nil
}
