package entitlement

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/projection"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle <like|subscription> <resource-id>",
	Short: "Flip a like or subscription",
	Long: `Flip a like or subscription and wait for the server to confirm it.

Examples:
  agora entitlement toggle like post-42
  agora entitlement toggle subscription thread-7 --subject user-1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if app.Remote == nil {
			return errors.New("toggle requires a reconciler or API connection")
		}
		k, err := key(app, args[0], args[1])
		if err != nil {
			return err
		}

		current, err := app.Queries.Get(cmd.Context(), app.Principal, k)
		if err != nil {
			return err
		}
		cache := projection.NewCache(app.Remote, projection.Config{Timeout: app.ProjectionTimeout}, nil)
		cache.Prime(k, current != nil && current.State == domain.StateOn)

		enabled, err := cache.Toggle(cmd.Context(), k)
		if err != nil {
			return err
		}

		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"subject_id":  k.SubjectID,
				"resource_id": k.ResourceID,
				"kind":        k.Kind,
				"enabled":     enabled,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k.ResourceID, stateWord(k.Kind, enabled))
		return nil
	},
}
