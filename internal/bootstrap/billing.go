// Package bootstrap assembles the billing services over a database so the
// server and the operator CLI run the same graph.
package bootstrap

import (
	"errors"

	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/infrastructure/cache"
	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/textress/backend/internal/infrastructure/notification"
	"github.com/textress/backend/internal/infrastructure/payment"
	"github.com/textress/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators that differ between deployments and tests.
// Nil fields get a development default.
type Deps struct {
	Locker   appaccount.TenantLocker
	Gateway  appaccount.PaymentGateway
	Notifier appaccount.Notifier
	Recorder appaccount.BillingRecorder
	Clock    appaccount.Clock
}

// Billing is the assembled service graph.
type Billing struct {
	Tenants  *persistence.GormTenantRepository
	Messages *persistence.GormMessageLogSource

	Types      *appaccount.TransTypeCache
	Pricing    *appaccount.PricingService
	Ledger     *appaccount.LedgerService
	Usage      *appaccount.UsageService
	Recharge   *appaccount.RechargeService
	Statements *appaccount.StatementService
	Costs      *appaccount.AcctCostService
	Accounts   *appaccount.AccountService
	Tick       *appaccount.BillingTickService
}

// NewBilling wires repositories and services on db.
func NewBilling(db *gorm.DB, cfg config.BillingConfig, deps Deps, logger *zap.Logger) *Billing {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = cache.NewInMemoryTenantLocker()
	}
	if deps.Gateway == nil {
		deps.Gateway = payment.NewSandboxGateway(logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewEmailNotifier(config.EmailConfig{}, logger)
	}

	tenantRepo := persistence.NewGormTenantRepository(db)
	transRepo := persistence.NewGormAcctTransRepository(db)
	costRepo := persistence.NewGormAcctCostRepository(db)
	stmtRepo := persistence.NewGormAcctStmtRepository(db)
	messages := persistence.NewGormMessageLogSource(db)

	types := appaccount.NewTransTypeCache(persistence.NewGormTransTypeRepository(db), logger)
	pricing := appaccount.NewPricingService(persistence.NewGormPricingRepository(db), logger)
	ledger := appaccount.NewLedgerService(
		persistence.NewGormLedgerScope(db), transRepo, types, deps.Locker, logger,
		appaccount.LedgerConfig{
			Location:       cfg.Location(),
			PhoneNumberFee: cfg.PhoneNumberFee,
			Clock:          deps.Clock,
		})
	usage := appaccount.NewUsageService(ledger, pricing, messages, transRepo, costRepo, deps.Recorder, logger)
	recharge := appaccount.NewRechargeService(ledger, usage, costRepo, tenantRepo,
		deps.Gateway, deps.Notifier, deps.Recorder, logger, appaccount.RechargeConfig{})
	statements := appaccount.NewStatementService(ledger, transRepo, stmtRepo, cfg.MonthlyFee, logger)
	costs := appaccount.NewAcctCostService(costRepo, deps.Locker, logger)

	return &Billing{
		Tenants:    tenantRepo,
		Messages:   messages,
		Types:      types,
		Pricing:    pricing,
		Ledger:     ledger,
		Usage:      usage,
		Recharge:   recharge,
		Statements: statements,
		Costs:      costs,
		Accounts:   appaccount.NewAccountService(ledger, costs, tenantRepo, deps.Gateway, logger),
		Tick: appaccount.NewBillingTickService(tenantRepo, ledger, usage, recharge, statements,
			deps.Notifier, deps.Recorder, logger,
			appaccount.BillingTickConfig{MaxConcurrentTenants: cfg.MaxConcurrentTenants}),
	}
}

// NewGateway returns the Stripe gateway behind the timeout and circuit
// breaker, or the sandbox gateway when no key is configured outside production.
func NewGateway(app config.AppConfig, cfg config.PaymentConfig, logger *zap.Logger) (appaccount.PaymentGateway, error) {
	if cfg.StripeSecretKey == "" {
		if app.Env == "production" {
			return nil, errors.New("payment: stripe secret key is required in production")
		}
		logger.Warn("No Stripe key configured, captures are simulated")
		return payment.NewSandboxGateway(logger), nil
	}
	stripeGateway, err := payment.NewStripeGateway(payment.StripeConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}
	return payment.NewResilientGateway(stripeGateway, payment.ResilientConfigFrom(cfg), logger), nil
}
