package account

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
)

// PricingTier is one contiguous unit range billed at a single per-unit price.
// End == 0 marks an open-ended tier, which is only valid as the last tier.
type PricingTier struct {
	shared.BaseEntity
	TenantID    *uuid.UUID // nil for the global default table
	Tier        int
	Start       int64
	End         int64
	Price       decimal.Decimal
	TierName    string
	Description string
}

// IsUnbounded reports whether the tier has no upper limit.
func (t PricingTier) IsUnbounded() bool {
	return t.End == 0
}

// PricingTable is an ordered set of tiers partitioning [1, ∞).
type PricingTable struct {
	tiers []PricingTier
}

// NewPricingTable builds a table sorted by tier number. Layout errors surface at lookup.
func NewPricingTable(tiers []PricingTier) *PricingTable {
	sorted := make([]PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tier < sorted[j].Tier })
	return &PricingTable{tiers: sorted}
}

// DefaultPricingTiers returns the global table seeded on setup.
func DefaultPricingTiers() []PricingTier {
	return []PricingTier{
		{Tier: 1, Start: 1, End: 200, Price: decimal.Zero, TierName: "Free", Description: "First 200 messages each month are free"},
		{Tier: 2, Start: 201, End: 2200, Price: decimal.RequireFromString("0.0550"), TierName: "Standard", Description: "Messages 201 to 2200"},
		{Tier: 3, Start: 2201, End: 0, Price: decimal.RequireFromString("0.0525"), TierName: "Volume", Description: "Messages above 2200"},
	}
}

// Tiers returns a copy of the ordered tiers.
func (p *PricingTable) Tiers() []PricingTier {
	out := make([]PricingTier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// Validate checks that tiers start at 1, are contiguous, and only the last is open-ended.
func (p *PricingTable) Validate() error {
	if len(p.tiers) == 0 {
		return fmt.Errorf("%w: no tiers configured", ErrPricingConfiguration)
	}
	for i, t := range p.tiers {
		if t.Price.IsNegative() {
			return fmt.Errorf("%w: tier %d has a negative price", ErrPricingConfiguration, t.Tier)
		}
		if !t.IsUnbounded() && t.End < t.Start {
			return fmt.Errorf("%w: tier %d ends before it starts", ErrPricingConfiguration, t.Tier)
		}
		if t.IsUnbounded() && i != len(p.tiers)-1 {
			return fmt.Errorf("%w: open-ended tier %d is not last", ErrPricingConfiguration, t.Tier)
		}
		if i == 0 {
			if t.Start != 1 {
				return fmt.Errorf("%w: first tier starts at %d", ErrPricingConfiguration, t.Start)
			}
			continue
		}
		prev := p.tiers[i-1]
		if t.Tier == prev.Tier {
			return fmt.Errorf("%w: duplicate tier %d", ErrPricingConfiguration, t.Tier)
		}
		if t.Start != prev.End+1 {
			return fmt.Errorf("%w: tier %d starts at %d, expected %d", ErrPricingConfiguration, t.Tier, t.Start, prev.End+1)
		}
	}
	return nil
}

// GetCost prices the unit range (unitsPrior, unitsPrior+unitsUsed], charging the
// portion that falls in each tier at that tier's price. The result is a positive
// magnitude; debit entries negate it.
func (p *PricingTable) GetCost(unitsUsed, unitsPrior int64) (decimal.Decimal, error) {
	if unitsUsed < 0 || unitsPrior < 0 {
		return decimal.Zero, ErrNegativeUnits
	}
	if err := p.Validate(); err != nil {
		return decimal.Zero, err
	}
	if unitsUsed == 0 {
		return decimal.Zero, nil
	}

	from := unitsPrior
	to := unitsPrior + unitsUsed
	cost := decimal.Zero
	covered := int64(0)

	for _, t := range p.tiers {
		lo := max(t.Start-1, from)
		hi := to
		if !t.IsUnbounded() {
			hi = min(t.End, to)
		}
		if hi <= lo {
			continue
		}
		n := hi - lo
		covered += n
		cost = cost.Add(t.Price.Mul(decimal.NewFromInt(n)))
	}

	if covered != unitsUsed {
		return decimal.Zero, fmt.Errorf("%w: %d of %d units fall outside every tier", ErrPricingConfiguration, unitsUsed-covered, unitsUsed)
	}
	return cost, nil
}

// TierFor returns the tier that bills the given unit ordinal.
func (p *PricingTable) TierFor(unit int64) (PricingTier, bool) {
	for _, t := range p.tiers {
		if unit >= t.Start && (t.IsUnbounded() || unit <= t.End) {
			return t, true
		}
	}
	return PricingTier{}, false
}
