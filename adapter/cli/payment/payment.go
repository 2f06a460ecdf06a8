package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/adapter/cli"
	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// Cmd is the payment command group.
var Cmd = &cobra.Command{
	Use:   "payment",
	Short: "Confirm payments and manage payment status",
	Long: `Confirm verified gateway payments and inspect or override the payment
status of a subject's plan.`,
}

var (
	subjectID  string
	outputJSON bool
)

func init() {
	Cmd.PersistentFlags().StringVar(&subjectID, "subject", "", "subject to act on (defaults to the operator)")
	Cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")

	Cmd.AddCommand(confirmCmd)
	Cmd.AddCommand(setStatusCmd)
	Cmd.AddCommand(statusCmd)
}

func requireApp() (*cli.App, error) {
	app := cli.GetApp()
	if app == nil || app.Reconciler == nil || app.Queries == nil {
		return nil, errors.New("payment commands require database connection")
	}
	return app, nil
}

func subject(app *cli.App) string {
	if subjectID != "" {
		return subjectID
	}
	return app.Principal.SubjectID
}

func printResult(cmd *cobra.Command, res application.Result, err error) error {
	if err != nil && !errors.Is(err, domain.ErrPartialFailure) {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"outcome":        res.Outcome,
			"audit_recorded": err == nil,
			"record":         res.Record,
		})
	}

	fmt.Fprintf(out, "Outcome: %s\n", res.Outcome)
	if res.Record != nil {
		fmt.Fprintf(out, "Plan %s: %s\n", res.Record.ResourceID, res.Record.State)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: status changed but the audit entry was not recorded")
	}
	return nil
}
