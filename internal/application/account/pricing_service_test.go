package account

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

func TestPricingService(t *testing.T) {
	ctx := context.Background()

	t.Run("global table by default", func(t *testing.T) {
		svc := NewPricingService(memPricingRepo{newStore()}, zap.NewNop())
		cost, err := svc.GetCost(ctx, uuid.New(), 300, 0)
		require.NoError(t, err)
		assertDec(t, "5.5", cost)

		cost, err = svc.GetCost(ctx, uuid.New(), 10, 2195)
		require.NoError(t, err)
		// 5 units at 0.055 and 5 at 0.0525
		assertDec(t, "0.5375", cost)
	})

	t.Run("tenant override replaces the global table", func(t *testing.T) {
		s := newStore()
		svc := NewPricingService(memPricingRepo{s}, zap.NewNop())
		tenantID := uuid.New()
		require.NoError(t, memPricingRepo{s}.SaveAll(ctx, []account.PricingTier{{
			BaseEntity: shared.NewBaseEntity(), TenantID: &tenantID,
			Tier: 1, Start: 1, Price: dec("0.04"), TierName: "Flat",
		}}))

		cost, err := svc.GetCost(ctx, tenantID, 100, 0)
		require.NoError(t, err)
		assertDec(t, "4", cost)

		tiers, err := svc.List(ctx, &tenantID)
		require.NoError(t, err)
		require.Len(t, tiers, 1)

		global, err := svc.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, global, 3)

		got, err := svc.Get(ctx, tiers[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Flat", got.TierName)
	})

	t.Run("malformed table is a configuration error", func(t *testing.T) {
		s := newStore()
		tenantID := uuid.New()
		s.tiers = append(s.tiers, account.PricingTier{
			BaseEntity: shared.NewBaseEntity(), TenantID: &tenantID,
			Tier: 1, Start: 2, Price: dec("0.04"),
		})
		svc := NewPricingService(memPricingRepo{s}, zap.NewNop())

		_, err := svc.GetCost(ctx, tenantID, 1, 0)
		assert.ErrorIs(t, err, account.ErrPricingConfiguration)
	})

	t.Run("seed defaults only when empty", func(t *testing.T) {
		s := newStore()
		svc := NewPricingService(memPricingRepo{s}, zap.NewNop())
		seeded, err := svc.SeedDefaults(ctx)
		require.NoError(t, err)
		assert.False(t, seeded)

		s.tiers = nil
		seeded, err = svc.SeedDefaults(ctx)
		require.NoError(t, err)
		assert.True(t, seeded)
		assert.Len(t, s.tiers, 3)
	})
}
