package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appaccount "github.com/textress/backend/internal/application/account"
)

func newTickCommand(env func() *Env) *cobra.Command {
	var (
		date      string
		phoneFees bool
	)
	c := &cobra.Command{
		Use:   "tick",
		Short: "Run the daily billing tick",
		Long: `Close usage for the given day, when it is already over, and check
every active tenant's balance, recharging or suspending as needed.

With --phone-fees the monthly phone number fee is charged as well.
Both jobs are safe to repeat for the same date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := env()
			day, err := parseDate(date, e)
			if err != nil {
				return err
			}
			report, err := e.Billing.Tick.RunDaily(cmd.Context(), day)
			if err != nil {
				return err
			}
			printReport(cmd, report)
			failed := len(report.Failures)

			if phoneFees {
				fees, err := e.Billing.Tick.RunPhoneNumberFees(cmd.Context(), day)
				if err != nil {
					return err
				}
				printReport(cmd, fees)
				failed += len(fees.Failures)
			}
			if failed > 0 {
				return fmt.Errorf("%d tenant(s) failed", failed)
			}
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", "", "billing day as YYYY-MM-DD (default: today)")
	c.Flags().BoolVar(&phoneFees, "phone-fees", false, "also charge the monthly phone number fee")
	return c
}

func parseDate(value string, e *Env) (time.Time, error) {
	if value == "" {
		return e.Billing.Ledger.Today(), nil
	}
	day, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", value)
	}
	return day, nil
}

func printReport(cmd *cobra.Command, r *appaccount.TickReport) {
	printf(cmd, "%s: tenants=%d recharged=%d suspended=%d created=%d failed=%d (%s)\n",
		r.Job, r.Tenants, r.Recharged, r.Suspended, r.Created, len(r.Failures), r.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		printf(cmd, "  %s: %v\n", f.TenantID, f.Err)
	}
}
