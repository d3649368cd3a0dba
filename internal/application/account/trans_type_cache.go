package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TransTypeCache is the registry of ledger entry kinds. Entries never expire;
// Invalidate and Clear drop them so the next lookup reloads from the store.
type TransTypeCache struct {
	repo   account.TransTypeRepository
	logger *zap.Logger

	mu    sync.RWMutex
	types map[account.TransTypeName]*account.TransType
	group singleflight.Group
}

// NewTransTypeCache creates an empty cache over repo.
func NewTransTypeCache(repo account.TransTypeRepository, logger *zap.Logger) *TransTypeCache {
	return &TransTypeCache{
		repo:   repo,
		logger: logger,
		types:  make(map[account.TransTypeName]*account.TransType),
	}
}

// GetOrSet returns the type for name, loading or creating it on a miss.
func (c *TransTypeCache) GetOrSet(ctx context.Context, name account.TransTypeName) (*account.TransType, error) {
	if !name.IsValid() {
		return nil, fmt.Errorf("%w: %q", account.ErrTransTypeMissing, name)
	}

	c.mu.RLock()
	tt, ok := c.types[name]
	c.mu.RUnlock()
	if ok {
		return tt, nil
	}

	v, err, _ := c.group.Do(string(name), func() (any, error) {
		tt, err := c.loadOrCreate(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.types[name] = tt
		c.mu.Unlock()
		return tt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*account.TransType), nil
}

func (c *TransTypeCache) loadOrCreate(ctx context.Context, name account.TransTypeName) (*account.TransType, error) {
	tt, err := c.repo.FindByName(ctx, name)
	if err == nil {
		return tt, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("load trans type %s: %w", name, err)
	}

	tt, err = account.NewTransType(name)
	if err != nil {
		return nil, err
	}
	err = c.repo.Create(ctx, tt)
	if errors.Is(err, shared.ErrAlreadyExists) {
		// another process created it between our read and write
		return c.repo.FindByName(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create trans type %s: %w", name, err)
	}
	c.logger.Info("Registered transaction type", zap.String("trans_type", name.String()))
	return tt, nil
}

// InitAmt returns the initial credit type.
func (c *TransTypeCache) InitAmt(ctx context.Context) (*account.TransType, error) {
	return c.GetOrSet(ctx, account.TransTypeInitAmt)
}

// RechargeAmt returns the recharge credit type.
func (c *TransTypeCache) RechargeAmt(ctx context.Context) (*account.TransType, error) {
	return c.GetOrSet(ctx, account.TransTypeRechargeAmt)
}

// SmsUsed returns the daily usage type.
func (c *TransTypeCache) SmsUsed(ctx context.Context) (*account.TransType, error) {
	return c.GetOrSet(ctx, account.TransTypeSmsUsed)
}

// PhoneNumber returns the monthly phone number fee type.
func (c *TransTypeCache) PhoneNumber(ctx context.Context) (*account.TransType, error) {
	return c.GetOrSet(ctx, account.TransTypePhoneNumber)
}

// BulkDiscount returns the bulk discount credit type.
func (c *TransTypeCache) BulkDiscount(ctx context.Context) (*account.TransType, error) {
	return c.GetOrSet(ctx, account.TransTypeBulkDiscount)
}

// Warm loads every known type. Called at startup so configuration problems surface early.
func (c *TransTypeCache) Warm(ctx context.Context) error {
	for _, name := range account.KnownTransTypes {
		if _, err := c.GetOrSet(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops one cached type.
func (c *TransTypeCache) Invalidate(name account.TransTypeName) {
	c.mu.Lock()
	delete(c.types, name)
	c.mu.Unlock()
	c.group.Forget(string(name))
}

// Clear drops every cached type.
func (c *TransTypeCache) Clear() {
	c.mu.Lock()
	c.types = make(map[account.TransTypeName]*account.TransType)
	c.mu.Unlock()
	for _, name := range account.KnownTransTypes {
		c.group.Forget(string(name))
	}
}

// Len returns the number of cached types.
func (c *TransTypeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}
