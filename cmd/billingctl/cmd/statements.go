package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatementsCommand(env func() *Env) *cobra.Command {
	var year, month int
	c := &cobra.Command{
		Use:   "statements",
		Short: "Build monthly statements for every tenant",
		Long: `Create the statement for the given period for every tenant that
does not have one yet. Defaults to the previous month.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := env()
			if year == 0 || month == 0 {
				prev := e.Billing.Ledger.Today().AddDate(0, -1, 0)
				if year == 0 {
					year = prev.Year()
				}
				if month == 0 {
					month = int(prev.Month())
				}
			}
			if month < 1 || month > 12 {
				return fmt.Errorf("invalid --month %d: want 1-12", month)
			}

			report, err := e.Billing.Tick.RunMonthlyStatements(cmd.Context(), year, time.Month(month))
			if err != nil {
				return err
			}
			printReport(cmd, report)
			if n := len(report.Failures); n > 0 {
				return fmt.Errorf("%d tenant(s) failed", n)
			}
			return nil
		},
	}
	c.Flags().IntVar(&year, "year", 0, "statement year")
	c.Flags().IntVar(&month, "month", 0, "statement month (1-12)")
	return c
}
