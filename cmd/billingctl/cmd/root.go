// Package cmd provides the billingctl commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/bootstrap"
	"github.com/textress/backend/internal/infrastructure/cache"
	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/textress/backend/internal/infrastructure/logger"
	"github.com/textress/backend/internal/infrastructure/migration"
	"github.com/textress/backend/internal/infrastructure/notification"
	"github.com/textress/backend/internal/infrastructure/persistence"
)

const dateLayout = "2006-01-02"

// Env is the billing graph a command runs against.
type Env struct {
	Billing *bootstrap.Billing
	Logger  *zap.Logger
	Close   func() error
}

// Loader builds the Env before a command runs.
type Loader func(ctx context.Context, verbose bool) (*Env, error)

// Execute runs the CLI against the configured database.
func Execute() error {
	return NewRootCommand(LoadEnv).Execute()
}

// NewRootCommand assembles the command tree. load is called once per
// invocation, before the subcommand runs.
func NewRootCommand(load Loader) *cobra.Command {
	var (
		verbose bool
		env     *Env
	)

	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operate the Textress billing ledger",
		Long: `billingctl runs billing jobs and inspects accounts by hand.

Examples:
  billingctl tick --date 2024-06-14
  billingctl statements --year 2024 --month 5
  billingctl pricing cost --units 1500 --prior 800
  billingctl balance --tenant 6f1c...`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			env, err = load(cmd.Context(), verbose)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if env == nil || env.Close == nil {
				return nil
			}
			return env.Close()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	current := func() *Env { return env }
	root.AddCommand(
		newTickCommand(current),
		newStatementsCommand(current),
		newPricingCommand(current),
		newBalanceCommand(current),
	)
	return root
}

// LoadEnv reads configuration, opens and migrates the database and wires
// the billing services the same way the server does.
func LoadEnv(ctx context.Context, verbose bool) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logCfg := logger.FromAppConfig(cfg.App, cfg.Log)
	if verbose {
		logCfg.Level = "debug"
	}
	logCfg.Format = "console"
	logCfg.Output = "stderr"
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	db, err := persistence.NewDatabase(&cfg.Database,
		logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh))
	if err != nil {
		return nil, err
	}
	if err := prepareSchema(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	closers := []func() error{db.Close}
	locker, err := newLocker(ctx, cfg, log, &closers)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gateway, err := bootstrap.NewGateway(cfg.App, cfg.Payment, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	billing := bootstrap.NewBilling(db.DB, cfg.Billing, bootstrap.Deps{
		Locker:   locker,
		Gateway:  gateway,
		Notifier: notification.NewEmailNotifier(cfg.Email, log),
	}, log)
	if err := billing.Types.Warm(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Env{
		Billing: billing,
		Logger:  log,
		Close: func() error {
			var firstErr error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			_ = log.Sync()
			return firstErr
		},
	}, nil
}

func prepareSchema(ctx context.Context, db *persistence.Database, log *zap.Logger) error {
	if db.Driver == config.DriverSQLite {
		return db.AutoMigrate(ctx)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, "", log)
	if err != nil {
		return err
	}
	return m.Up()
}

func newLocker(ctx context.Context, cfg *config.Config, log *zap.Logger, closers *[]func() error) (appaccount.TenantLocker, error) {
	if cfg.Billing.Locker != config.LockerRedis {
		return cache.NewTenantLocker(cfg.Billing, nil, log)
	}
	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, client.Close)
	return cache.NewTenantLocker(cfg.Billing, client, log)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
