package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBalanceCommand(env func() *Env) *cobra.Command {
	var (
		tenant   string
		excludes bool
	)
	c := &cobra.Command{
		Use:   "balance",
		Short: "Show a tenant's balance and check it against the ledger",
		Long: `Print the running balance snapshot and the sum of every ledger
entry. The command fails when the two disagree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := optionalTenant(tenant)
			if err != nil {
				return err
			}
			if tenantID == nil {
				return fmt.Errorf("--tenant is required")
			}
			e := env()
			ctx := cmd.Context()

			available, err := e.Billing.Ledger.GetBalance(ctx, *tenantID, excludes)
			if err != nil {
				return err
			}
			r, err := e.Billing.Ledger.Reconcile(ctx, *tenantID)
			if err != nil {
				return err
			}

			label := "balance"
			if excludes {
				label = "available"
			}
			printf(cmd, "%s: %s\n", label, available.StringFixed(2))
			printf(cmd, "ledger:  %s\n", r.Balance.StringFixed(2))
			if !r.Consistent {
				return fmt.Errorf("snapshot %s does not match ledger sum %s",
					r.Snapshot.StringFixed(2), r.Balance.StringFixed(2))
			}
			printf(cmd, "consistent\n")
			return nil
		},
	}
	c.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	c.Flags().BoolVar(&excludes, "available", false, "exclude today's provisional usage")
	_ = c.MarkFlagRequired("tenant")
	return c
}
