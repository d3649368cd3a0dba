package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// AcctCostService manages the one policy record each tenant has.
type AcctCostService struct {
	repo   account.AcctCostRepository
	locker TenantLocker
	logger *zap.Logger
}

// NewAcctCostService creates a new AcctCostService
func NewAcctCostService(repo account.AcctCostRepository, locker TenantLocker, logger *zap.Logger) *AcctCostService {
	return &AcctCostService{repo: repo, locker: locker, logger: logger}
}

// Get returns the stored policy, or the defaults when the tenant has none.
func (s *AcctCostService) Get(ctx context.Context, tenantID uuid.UUID) (*account.AcctCost, error) {
	cost, err := s.repo.FindByTenant(ctx, tenantID)
	if errors.Is(err, shared.ErrNotFound) {
		return account.NewAcctCost(tenantID, account.AcctCostInput{})
	}
	return cost, err
}

// Upsert creates the tenant's policy or applies in to the existing one.
// created reports whether a new record was stored.
func (s *AcctCostService) Upsert(ctx context.Context, tenantID uuid.UUID, in account.AcctCostInput) (*account.AcctCost, bool, error) {
	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}
	defer unlock()

	existing, err := s.repo.FindByTenant(ctx, tenantID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		cost, err := account.NewAcctCost(tenantID, in)
		if err != nil {
			return nil, false, err
		}
		err = s.repo.Create(ctx, cost)
		if errors.Is(err, shared.ErrAlreadyExists) {
			// created by another process since our read; fall through to update
			existing, err = s.repo.FindByTenant(ctx, tenantID)
			if err != nil {
				return nil, false, err
			}
			return s.update(ctx, existing, in)
		}
		if err != nil {
			return nil, false, fmt.Errorf("create policy for tenant %s: %w", tenantID, err)
		}
		s.logger.Info("Account cost created",
			zap.String("tenant_id", tenantID.String()),
			zap.Bool("auto_recharge", cost.AutoRecharge))
		return cost, true, nil
	case err != nil:
		return nil, false, err
	}
	return s.update(ctx, existing, in)
}

func (s *AcctCostService) update(ctx context.Context, cost *account.AcctCost, in account.AcctCostInput) (*account.AcctCost, bool, error) {
	if in.IsEmpty() {
		return cost, false, nil
	}
	if err := cost.Apply(in); err != nil {
		return nil, false, err
	}
	if err := s.repo.Update(ctx, cost); err != nil {
		return nil, false, fmt.Errorf("update policy for tenant %s: %w", cost.TenantID, err)
	}
	s.logger.Info("Account cost updated",
		zap.String("tenant_id", cost.TenantID.String()),
		zap.Bool("auto_recharge", cost.AutoRecharge))
	return cost, false, nil
}
