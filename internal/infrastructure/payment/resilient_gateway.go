package payment

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ResilientConfig configures ResilientGateway
type ResilientConfig struct {
	// CaptureTimeout bounds one capture. Default 20s.
	CaptureTimeout time.Duration
	// FailureThreshold is the number of consecutive processor failures that
	// opens the breaker. Default 5.
	FailureThreshold uint
	// BreakerDelay is how long the breaker stays open. Default 1m.
	BreakerDelay time.Duration
}

// ResilientConfigFrom builds a ResilientConfig from the application configuration.
func ResilientConfigFrom(cfg config.PaymentConfig) ResilientConfig {
	return ResilientConfig{
		CaptureTimeout:   cfg.CaptureTimeout,
		FailureThreshold: cfg.FailureThreshold,
		BreakerDelay:     cfg.BreakerDelay,
	}
}

// ResilientGateway bounds each capture with a timeout and stops calling the
// processor while it is failing. Declines do not count against the breaker.
// Captures are never retried.
type ResilientGateway struct {
	next     account.PaymentGateway
	breaker  circuitbreaker.CircuitBreaker[*account.ChargeReceipt]
	executor failsafe.Executor[*account.ChargeReceipt]
	logger   *zap.Logger
}

// NewResilientGateway wraps next.
func NewResilientGateway(next account.PaymentGateway, cfg ResilientConfig, logger *zap.Logger) *ResilientGateway {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 20 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = time.Minute
	}

	breaker := circuitbreaker.NewBuilder[*account.ChargeReceipt]().
		HandleIf(func(_ *account.ChargeReceipt, err error) bool {
			return err != nil && !isDecline(err)
		}).
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("Payment circuit breaker state change",
				zap.Any("from_state", e.OldState),
				zap.Any("to_state", e.NewState))
		}).
		Build()
	to := timeout.New[*account.ChargeReceipt](cfg.CaptureTimeout)

	return &ResilientGateway{
		next:     next,
		breaker:  breaker,
		executor: failsafe.With[*account.ChargeReceipt](breaker, to),
		logger:   logger,
	}
}

// Charge runs the capture through the breaker and timeout.
func (g *ResilientGateway) Charge(ctx context.Context, req account.ChargeRequest) (*account.ChargeReceipt, error) {
	receipt, err := g.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*account.ChargeReceipt]) (*account.ChargeReceipt, error) {
		return g.next.Charge(exec.Context(), req)
	})
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return nil, &CaptureError{Reason: ReasonGatewayUnavailable, Err: err}
	case errors.Is(err, timeout.ErrExceeded):
		return nil, &CaptureError{Reason: ReasonGatewayTimeout, Err: err}
	}
	return nil, err
}

// BreakerOpen reports whether captures are currently being refused.
func (g *ResilientGateway) BreakerOpen() bool {
	return g.breaker.IsOpen()
}

var _ account.PaymentGateway = (*ResilientGateway)(nil)
