package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/textress/backend/internal/domain/shared"
)

// RedisDeliveryDedup remembers delivery receipts already applied to the
// message log, shared by every consumer instance.
type RedisDeliveryDedup struct {
	client *redis.Client
	prefix string
}

// NewRedisDeliveryDedup creates a dedup store on an existing client.
func NewRedisDeliveryDedup(client *redis.Client) *RedisDeliveryDedup {
	return &RedisDeliveryDedup{client: client, prefix: deliveryKeyPrefix}
}

// MarkProcessed records key with a TTL using SETNX.
// Returns false if the key was already recorded.
func (s *RedisDeliveryDedup) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark delivery %s: %w", key, err)
	}
	return ok, nil
}

// IsProcessed reports whether key was recorded and has not expired.
func (s *RedisDeliveryDedup) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check delivery %s: %w", key, err)
	}
	return n > 0, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisDeliveryDedup) Close() error { return nil }

// InMemoryDeliveryDedup is the single-process dedup store.
type InMemoryDeliveryDedup struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDeliveryDedup creates the store and starts its sweeper.
func NewInMemoryDeliveryDedup() *InMemoryDeliveryDedup {
	s := &InMemoryDeliveryDedup{
		expires: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(5 * time.Minute)
	return s
}

// MarkProcessed records key unless a live record exists.
func (s *InMemoryDeliveryDedup) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether key has a live record.
func (s *InMemoryDeliveryDedup) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[key]
	return ok && s.now().Before(exp), nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *InMemoryDeliveryDedup) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryDeliveryDedup) sweepLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryDeliveryDedup) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}
}

// Size returns the number of stored records, live or not yet swept.
func (s *InMemoryDeliveryDedup) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

var (
	_ shared.IdempotencyStore = (*RedisDeliveryDedup)(nil)
	_ shared.IdempotencyStore = (*InMemoryDeliveryDedup)(nil)
)
