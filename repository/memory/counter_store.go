package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fastygo/tenantauth/repository"
)

// ErrCounterCapacity is returned when every tracked window is still live and
// the store is full.
var ErrCounterCapacity = errors.New("counter store capacity exceeded")

type counterWindow struct {
	count     int64
	windowEnd time.Time
}

type counterStore struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string]*counterWindow
	maxKeys int
}

type CounterStoreConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewCounterStore returns an in-process fixed-window counter. It is only
// shared within one process.
func NewCounterStore(cfg CounterStoreConfig) repository.CounterStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &counterStore{
		now:     cfg.Now,
		data:    make(map[string]*counterWindow),
		maxKeys: cfg.MaxKeys,
	}
}

func (s *counterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = time.Second
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[key]
	if !ok || !now.Before(bucket.windowEnd) {
		if !ok && len(s.data) >= s.maxKeys {
			s.gc(now)
		}
		if !ok && len(s.data) >= s.maxKeys {
			return 0, 0, ErrCounterCapacity
		}
		bucket = &counterWindow{windowEnd: now.Add(window)}
		s.data[key] = bucket
	}
	bucket.count++
	return bucket.count, bucket.windowEnd.Sub(now), nil
}

func (s *counterStore) gc(now time.Time) {
	for key, bucket := range s.data {
		if !now.Before(bucket.windowEnd) {
			delete(s.data, key)
		}
	}
}
