package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/internal/infrastructure/buffer"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Targets are the dependencies the monitor probes. A nil Postgres pool means
// the in-memory store is in use; a nil Redis client means the in-process
// counter store is.
type Targets struct {
	Postgres *pgxpool.Pool
	Redis    *redislib.Client
	Outbox   *buffer.Store
}

type Monitor struct {
	targets Targets

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(targets Targets, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		targets:  targets,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// IsOnline reports whether the credential store is reachable. The counter
// store is not required: the rate limiter decides how to degrade.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.StorageOK
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Refresh probes every target once and stores the result.
func (m *Monitor) Refresh() Status {
	outboxOK, outboxSize := m.checkOutbox()
	status := Status{
		Storage:      backendMemory,
		StorageOK:    true,
		CounterStore: backendMemory,
		CounterOK:    true,
		Outbox:       outboxOK,
		OutboxSize:   outboxSize,
		LastCheck:    time.Now(),
	}
	if m.targets.Postgres != nil {
		status.Storage = backendPostgres
		status.StorageOK = m.checkPostgres()
	}
	if m.targets.Redis != nil {
		status.CounterStore = backendRedis
		status.CounterOK = m.checkRedis()
	}

	m.mu.Lock()
	prev := m.status
	m.status = status
	m.mu.Unlock()

	if !prev.LastCheck.IsZero() && prev.StorageOK != status.StorageOK {
		m.logger.Warn("storage availability changed", zap.String("storage", status.Storage), zap.Bool("online", status.StorageOK))
	}
	return status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) checkPostgres() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return m.targets.Postgres.Ping(ctx) == nil
}

func (m *Monitor) checkRedis() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.targets.Redis.Ping(ctx).Err() == nil
}

func (m *Monitor) checkOutbox() (bool, int) {
	if m.targets.Outbox == nil {
		return false, 0
	}
	size, err := m.targets.Outbox.Size()
	if err != nil {
		m.logger.Warn("outbox size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
