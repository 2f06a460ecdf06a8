package payment

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	confirmPlan      string
	confirmMethod    string
	confirmReference string
	confirmAmount    int64
	confirmCurrency  string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Apply a gateway-verified payment",
	Long: `Verify a transaction with the payment gateway and activate the plan.
Confirming the same transaction reference again changes nothing.

Examples:
  agora payment confirm --plan pro --method card --ref tx-123 --amount 999 --currency EUR`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}

		res, err := app.Reconciler.ConfirmPayment(cmd.Context(), app.Principal, domain.PaymentConfirmation{
			SubjectID:            subject(app),
			PlanID:               confirmPlan,
			PaymentMethod:        confirmMethod,
			TransactionReference: confirmReference,
			Amount:               confirmAmount,
			Currency:             confirmCurrency,
		})
		return printResult(cmd, res, err)
	},
}

func init() {
	confirmCmd.Flags().StringVar(&confirmPlan, "plan", "", "plan identifier")
	confirmCmd.Flags().StringVar(&confirmMethod, "method", "", "payment method")
	confirmCmd.Flags().StringVar(&confirmReference, "ref", "", "gateway transaction reference")
	confirmCmd.Flags().Int64Var(&confirmAmount, "amount", 0, "amount in minor units")
	confirmCmd.Flags().StringVar(&confirmCurrency, "currency", "", "ISO 4217 currency code")
}
