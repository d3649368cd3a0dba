package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrLockNotAcquired is returned when the context ends before the lock is free.
var ErrLockNotAcquired = errors.New("tenant lock not acquired")

// InMemoryTenantLocker serialises work per tenant inside one process.
type InMemoryTenantLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewInMemoryTenantLocker creates an InMemoryTenantLocker.
func NewInMemoryTenantLocker() *InMemoryTenantLocker {
	return &InMemoryTenantLocker{slots: make(map[uuid.UUID]*lockSlot)}
}

// Lock blocks until the tenant is free or ctx is done.
func (l *InMemoryTenantLocker) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[tenantID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[tenantID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(tenantID, slot)
		return nil, fmt.Errorf("%w: %w", ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(tenantID, slot)
		})
	}, nil
}

func (l *InMemoryTenantLocker) release(tenantID uuid.UUID, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, tenantID)
	}
}

// Held returns the number of tenants with a holder or waiter.
func (l *InMemoryTenantLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTenantLocker serialises work per tenant across processes with a
// SET NX PX lease. A holder that dies loses the lock after the TTL.
type RedisTenantLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// RedisTenantLockerOption is a functional option for configuring the locker
type RedisTenantLockerOption func(*RedisTenantLocker)

// WithLockTTL sets the lease duration.
func WithLockTTL(ttl time.Duration) RedisTenantLockerOption {
	return func(l *RedisTenantLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets how often a waiter polls for the lock.
func WithRetryInterval(d time.Duration) RedisTenantLockerOption {
	return func(l *RedisTenantLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLockerLogger sets the logger for the locker
func WithLockerLogger(logger *zap.Logger) RedisTenantLockerOption {
	return func(l *RedisTenantLocker) {
		l.logger = logger
	}
}

// NewRedisTenantLocker creates a locker on an existing client. The caller
// keeps ownership of the client.
func NewRedisTenantLocker(client *redis.Client, opts ...RedisTenantLockerOption) *RedisTenantLocker {
	l := &RedisTenantLocker{
		client: client,
		ttl:    time.Minute,
		retry:  50 * time.Millisecond,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls until the lease is acquired or ctx is done.
func (l *RedisTenantLocker) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	key := lockKeyPrefix + tenantID.String()
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, l.client, []string{key}, token).Int()
			if err != nil {
				l.logger.Warn("Failed to release tenant lock", zap.String("key", key), zap.Error(err))
				return
			}
			if n == 0 {
				l.logger.Warn("Tenant lock expired before release", zap.String("key", key))
			}
		})
	}, nil
}

// NewTenantLocker picks the locker named by cfg.Locker. client may be nil
// for the memory locker.
func NewTenantLocker(cfg config.BillingConfig, client *redis.Client, logger *zap.Logger) (account.TenantLocker, error) {
	switch cfg.Locker {
	case config.LockerRedis:
		if client == nil {
			return nil, errors.New("redis locker requires a redis client")
		}
		logger.Info("Using Redis tenant locker", zap.Duration("ttl", cfg.LockTTL))
		return NewRedisTenantLocker(client, WithLockTTL(cfg.LockTTL), WithLockerLogger(logger)), nil
	case config.LockerMemory, "":
		logger.Info("Using in-memory tenant locker")
		return NewInMemoryTenantLocker(), nil
	default:
		return nil, fmt.Errorf("unknown tenant locker %q", cfg.Locker)
	}
}

var (
	_ account.TenantLocker = (*InMemoryTenantLocker)(nil)
	_ account.TenantLocker = (*RedisTenantLocker)(nil)
)
