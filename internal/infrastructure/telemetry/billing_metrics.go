package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BillingMetrics records ledger and tick activity.
type BillingMetrics struct {
	logger *zap.Logger

	usagePosted    *Counter
	unitsPriced    *Counter
	recharges      *Counter
	rechargeCents  *Counter
	suspensions    *Counter
	tickFailures   *Counter
	tickDuration   *Histogram
	tenantBalances *FloatGauge
}

// BillingMetricsConfig holds configuration for billing metrics.
type BillingMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewBillingMetrics registers the billing instruments on cfg.Meter.
func NewBillingMetrics(cfg BillingMetricsConfig) (*BillingMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BillingMetrics{logger: logger}
	var err error

	if bm.usagePosted, err = NewCounter(cfg.Meter, "textress_usage_entries_total",
		"Usage ledger entries created or updated", "{entries}"); err != nil {
		return nil, err
	}
	if bm.unitsPriced, err = NewCounter(cfg.Meter, "textress_sms_units_total",
		"SMS units priced into the ledger", "{messages}"); err != nil {
		return nil, err
	}
	if bm.recharges, err = NewCounter(cfg.Meter, "textress_recharges_total",
		"Automatic recharges appended", "{recharges}"); err != nil {
		return nil, err
	}
	if bm.rechargeCents, err = NewCounter(cfg.Meter, "textress_recharge_amount_total",
		"Automatic recharge amount in cents", "{cents}"); err != nil {
		return nil, err
	}
	if bm.suspensions, err = NewCounter(cfg.Meter, "textress_suspensions_total",
		"Tenants suspended after a failed recharge", "{tenants}"); err != nil {
		return nil, err
	}
	if bm.tickFailures, err = NewCounter(cfg.Meter, "textress_tick_tenant_failures_total",
		"Per-tenant failures during billing jobs", "{tenants}"); err != nil {
		return nil, err
	}
	if bm.tickDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "textress_tick_duration_seconds",
		Description: "Billing job duration",
		Unit:        "s",
		Boundaries:  TickDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if bm.tenantBalances, err = NewFloatGauge(cfg.Meter, "textress_tenant_balance",
		"Tenant balance after the last check", "{USD}"); err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordUsagePosted records a usage entry write of units messages.
func (bm *BillingMetrics) RecordUsagePosted(ctx context.Context, tenantID uuid.UUID, units int64) {
	bm.usagePosted.Inc(ctx, AttrTenantID.String(tenantID.String()))
	if units > 0 {
		bm.unitsPriced.Add(ctx, units, AttrTenantID.String(tenantID.String()))
	}
}

// RecordRecharge records an appended recharge entry.
func (bm *BillingMetrics) RecordRecharge(ctx context.Context, tenantID uuid.UUID, amount decimal.Decimal) {
	bm.recharges.Inc(ctx, AttrTenantID.String(tenantID.String()))
	bm.rechargeCents.Add(ctx, amount.Shift(2).IntPart(), AttrTenantID.String(tenantID.String()))
}

// RecordSuspension records a tenant being flipped inactive.
func (bm *BillingMetrics) RecordSuspension(ctx context.Context, tenantID uuid.UUID, reason string) {
	bm.suspensions.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrReason.String(reason))
}

// RecordBalance records a tenant's balance after a check.
func (bm *BillingMetrics) RecordBalance(ctx context.Context, tenantID uuid.UUID, balance decimal.Decimal) {
	bm.tenantBalances.Record(ctx, balance.InexactFloat64(), AttrTenantID.String(tenantID.String()))
}

// RecordJob records a billing job run and its per-tenant failures.
func (bm *BillingMetrics) RecordJob(ctx context.Context, job string, d time.Duration, failed int) {
	bm.tickDuration.RecordDuration(ctx, d, AttrJob.String(job))
	if failed > 0 {
		bm.tickFailures.Add(ctx, int64(failed), AttrJob.String(job))
	}
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBillingMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
