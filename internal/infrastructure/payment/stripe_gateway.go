package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	SecretKey string
	Currency  string
	TestMode  bool
	// BackendURL overrides the API endpoint. Tests point it at a local server.
	BackendURL string
}

// StripeConfigFrom builds a StripeConfig from the application configuration.
func StripeConfigFrom(cfg config.PaymentConfig) StripeConfig {
	return StripeConfig{
		SecretKey: cfg.StripeSecretKey,
		Currency:  cfg.Currency,
		TestMode:  cfg.TestMode,
	}
}

// Validate validates the Stripe configuration
func (c StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return errors.New("stripe: secret key is required")
	}
	if c.TestMode && !strings.HasPrefix(c.SecretKey, "sk_test") {
		return errors.New("stripe: test mode enabled but secret key is not a test key")
	}
	if !c.TestMode && !strings.HasPrefix(c.SecretKey, "sk_live") {
		return errors.New("stripe: live mode enabled but secret key is not a live key")
	}
	if c.Currency == "" {
		return errors.New("stripe: currency is required")
	}
	return nil
}

// StripeGateway captures prepaid SMS credit off-session against the
// tenant's saved payment method.
type StripeGateway struct {
	api      *client.API
	currency string
	logger   *zap.Logger
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}
	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})

	return &StripeGateway{
		api:      api,
		currency: strings.ToLower(cfg.Currency),
		logger:   logger,
	}, nil
}

// Charge confirms a payment intent for req.Amount and returns the resulting charge.
func (g *StripeGateway) Charge(ctx context.Context, req account.ChargeRequest) (*account.ChargeReceipt, error) {
	if req.CustomerID == "" {
		return nil, &CaptureError{Reason: ReasonNoPaymentMethod}
	}
	cents, err := toMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(g.currency),
		Customer:    stripe.String(req.CustomerID),
		Description: stripe.String(req.Description),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", req.TenantID.String())
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	g.logger.Debug("Creating Stripe payment intent",
		zap.String("tenant_id", req.TenantID.String()),
		zap.Int64("amount_cents", cents))

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		cerr := classifyStripeError(err)
		g.logger.Warn("Stripe capture failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("reason", cerr.Reason),
			zap.String("code", cerr.Code))
		return nil, cerr
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &CaptureError{Reason: ReasonActionRequired, Code: string(pi.Status)}
	}

	chargeID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		chargeID = pi.LatestCharge.ID
	}
	g.logger.Info("Captured Stripe payment",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("payment_intent", pi.ID),
		zap.String("charge_id", chargeID))

	return &account.ChargeReceipt{
		ChargeID:   chargeID,
		Amount:     decimal.New(pi.Amount, -2),
		CapturedAt: time.Unix(pi.Created, 0).UTC(),
	}, nil
}

func classifyStripeError(err error) *CaptureError {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &CaptureError{Reason: ReasonGatewayError, Err: err}
	}
	switch se.Type {
	case stripe.ErrorTypeCard:
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		if se.Code == stripe.ErrorCodeAuthenticationRequired {
			return &CaptureError{Reason: ReasonActionRequired, Code: code, Err: err}
		}
		return &CaptureError{Reason: ReasonDeclined, Code: code, Err: err}
	case stripe.ErrorTypeInvalidRequest:
		if se.Code == stripe.ErrorCodeResourceMissing || se.Code == stripe.ErrorCodePaymentMethodUnactivated {
			return &CaptureError{Reason: ReasonNoPaymentMethod, Code: string(se.Code), Err: err}
		}
	}
	return &CaptureError{Reason: ReasonGatewayError, Code: string(se.Code), Err: err}
}

// toMinorUnits converts a dollar amount to cents. Fractions of a cent are rejected.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !amount.IsPositive() || !cents.Equal(cents.Truncate(0)) {
		return 0, &CaptureError{Reason: ReasonInvalidAmount, Code: amount.String()}
	}
	return cents.IntPart(), nil
}

// SandboxGateway accepts every capture without contacting a processor. It
// backs development setups without a Stripe key.
type SandboxGateway struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSandboxGateway creates a new SandboxGateway
func NewSandboxGateway(logger *zap.Logger) *SandboxGateway {
	return &SandboxGateway{logger: logger, now: time.Now}
}

// Charge records the request and returns a synthetic receipt.
func (g *SandboxGateway) Charge(_ context.Context, req account.ChargeRequest) (*account.ChargeReceipt, error) {
	if _, err := toMinorUnits(req.Amount); err != nil {
		return nil, err
	}
	g.logger.Info("Sandbox capture",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("idempotency_key", req.IdempotencyKey))
	return &account.ChargeReceipt{
		ChargeID:   fmt.Sprintf("sandbox_%s", req.IdempotencyKey),
		Amount:     req.Amount,
		CapturedAt: g.now().UTC(),
	}, nil
}

var (
	_ account.PaymentGateway = (*StripeGateway)(nil)
	_ account.PaymentGateway = (*SandboxGateway)(nil)
)
