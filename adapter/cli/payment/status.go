package payment

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	statusPlan   string
	statusValue  string
	statusReason string
)

var setStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Override the payment status of a plan",
	Long: `Set a subject's payment status directly. Requires the entitlements:admin
capability. This is the only way to expire a plan.

Examples:
  agora payment set-status --subject user-1 --plan pro --status expired --reason "chargeback"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if statusValue == "" {
			return errors.New("status is required")
		}
		state, err := domain.ParsePaymentState(statusValue)
		if err != nil {
			return err
		}

		res, err := app.Reconciler.SetPaymentStatus(cmd.Context(), app.Principal, subject(app), statusPlan, state, statusReason)
		return printResult(cmd, res, err)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the payment status of a plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		key, err := domain.NewKey(subject(app), statusPlan, domain.KindPaymentStatus)
		if err != nil {
			return err
		}

		record, err := app.Queries.Get(cmd.Context(), app.Principal, key)
		if err != nil {
			return err
		}
		if record == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %s: %s\n", statusPlan, domain.StateNone)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plan %s: %s\n", statusPlan, record.State)
		if ref := record.Attribute(domain.AttrLastTransactionReference); ref != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Last transaction: %s (%s)\n", ref, record.Attribute(domain.AttrLastPaymentMethod))
		}
		if renewed := record.Attribute(domain.AttrRenewedAt); renewed != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Renewed: %s\n", renewed)
		}
		return nil
	},
}

func init() {
	setStatusCmd.Flags().StringVar(&statusPlan, "plan", "", "plan identifier")
	setStatusCmd.Flags().StringVar(&statusValue, "status", "", "none, active or expired")
	setStatusCmd.Flags().StringVar(&statusReason, "reason", "", "reason recorded in the audit trail")
	statusCmd.Flags().StringVar(&statusPlan, "plan", "", "plan identifier")
}
