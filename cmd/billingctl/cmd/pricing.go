package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/textress/backend/internal/domain/account"
)

func newPricingCommand(env func() *Env) *cobra.Command {
	var tenant string

	c := &cobra.Command{
		Use:   "pricing",
		Short: "Inspect the SMS pricing table",
	}
	c.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant ID (default: the global table)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pricing tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := optionalTenant(tenant)
			if err != nil {
				return err
			}
			tiers, err := env().Billing.Pricing.List(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tSTART\tEND\tPRICE\tNAME")
			for _, t := range tiers {
				end := "-"
				if !t.IsUnbounded() {
					end = fmt.Sprint(t.End)
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", t.Tier, t.Start, end, t.Price.StringFixed(4), t.TierName)
			}
			return w.Flush()
		},
	}

	var units, prior int64
	cost := &cobra.Command{
		Use:   "cost",
		Short: "Price a number of messages",
		Long: `Price --units messages sent after --prior messages already billed
this month. Tiers are crossed the same way the daily usage entry does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := optionalTenant(tenant)
			if err != nil {
				return err
			}
			var amount decimal.Decimal
			if tenantID != nil {
				amount, err = env().Billing.Pricing.GetCost(cmd.Context(), *tenantID, units, prior)
			} else {
				amount, err = globalCost(cmd, env(), units, prior)
			}
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", amount.StringFixed(2))
			return nil
		},
	}
	cost.Flags().Int64Var(&units, "units", 0, "messages to price")
	cost.Flags().Int64Var(&prior, "prior", 0, "messages already billed this month")
	_ = cost.MarkFlagRequired("units")

	c.AddCommand(list, cost)
	return c
}

func globalCost(cmd *cobra.Command, e *Env, units, prior int64) (decimal.Decimal, error) {
	tiers, err := e.Billing.Pricing.List(cmd.Context(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	table := account.NewPricingTable(tiers)
	if err := table.Validate(); err != nil {
		return decimal.Zero, err
	}
	return table.GetCost(units, prior)
}

func optionalTenant(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --tenant %q: %w", value, err)
	}
	return &id, nil
}
