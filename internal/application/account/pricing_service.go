package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// PricingService resolves pricing tables and prices usage.
type PricingService struct {
	repo   account.PricingRepository
	logger *zap.Logger
}

// NewPricingService creates a new PricingService
func NewPricingService(repo account.PricingRepository, logger *zap.Logger) *PricingService {
	return &PricingService{repo: repo, logger: logger}
}

// TableFor returns the tenant's override table if it has one, else the global table.
// A missing or malformed table is a configuration error.
func (s *PricingService) TableFor(ctx context.Context, tenantID uuid.UUID) (*account.PricingTable, error) {
	tiers, err := s.repo.FindTable(ctx, &tenantID)
	if err != nil {
		return nil, fmt.Errorf("load pricing for tenant %s: %w", tenantID, err)
	}
	if len(tiers) == 0 {
		if tiers, err = s.repo.FindTable(ctx, nil); err != nil {
			return nil, fmt.Errorf("load global pricing: %w", err)
		}
	}

	table := account.NewPricingTable(tiers)
	if err := table.Validate(); err != nil {
		s.logger.Error("Invalid pricing table",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return nil, err
	}
	return table, nil
}

// GetCost prices unitsUsed messages following unitsPrior already billed this month.
func (s *PricingService) GetCost(ctx context.Context, tenantID uuid.UUID, unitsUsed, unitsPrior int64) (decimal.Decimal, error) {
	table, err := s.TableFor(ctx, tenantID)
	if err != nil {
		return decimal.Zero, err
	}
	return table.GetCost(unitsUsed, unitsPrior)
}

// List returns the tiers shown to a tenant, ordered by tier. A nil tenant lists the global table.
func (s *PricingService) List(ctx context.Context, tenantID *uuid.UUID) ([]account.PricingTier, error) {
	if tenantID != nil {
		tiers, err := s.repo.FindTable(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if len(tiers) > 0 {
			return account.NewPricingTable(tiers).Tiers(), nil
		}
	}
	tiers, err := s.repo.FindTable(ctx, nil)
	if err != nil {
		return nil, err
	}
	return account.NewPricingTable(tiers).Tiers(), nil
}

// Get returns a single tier.
func (s *PricingService) Get(ctx context.Context, id uuid.UUID) (*account.PricingTier, error) {
	return s.repo.FindByID(ctx, id)
}

// SeedDefaults stores the default global table when none exists. Returns true if it seeded.
func (s *PricingService) SeedDefaults(ctx context.Context) (bool, error) {
	existing, err := s.repo.FindTable(ctx, nil)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	tiers := account.DefaultPricingTiers()
	for i := range tiers {
		tiers[i].BaseEntity = shared.NewBaseEntity()
	}
	if err := s.repo.SaveAll(ctx, tiers); err != nil {
		return false, fmt.Errorf("seed pricing: %w", err)
	}
	s.logger.Info("Seeded default pricing tiers", zap.Int("tiers", len(tiers)))
	return true, nil
}
