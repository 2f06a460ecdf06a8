package entitlement

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	prefsOnPost  string
	prefsOnReply string
)

var prefsCmd = &cobra.Command{
	Use:   "prefs <resource-id>",
	Short: "Update notification preferences of a subscription",
	Long: `Update the notification preferences of an existing subscription.

Examples:
  agora entitlement prefs thread-7 --on-post=false
  agora entitlement prefs thread-7 --on-post=true --on-reply=true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		k, err := key(app, string(domain.KindSubscription), args[0])
		if err != nil {
			return err
		}

		attrs := domain.Attributes{}
		for name, raw := range map[string]string{
			domain.AttrNotifyOnPost:  prefsOnPost,
			domain.AttrNotifyOnReply: prefsOnReply,
		} {
			if raw == "" {
				continue
			}
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return errors.Join(domain.ErrInvalidAttributes, err)
			}
			attrs[name] = strconv.FormatBool(v)
		}
		if len(attrs) == 0 {
			return errors.New("set --on-post or --on-reply")
		}

		res, err := app.Reconciler.Reconcile(cmd.Context(), app.Principal, domain.Intent{
			SubjectID:  k.SubjectID,
			ResourceID: k.ResourceID,
			Kind:       k.Kind,
			Action:     domain.ActionUpdate,
			Attributes: attrs,
		})
		return printResult(cmd, res, err)
	},
}

func init() {
	prefsCmd.Flags().StringVar(&prefsOnPost, "on-post", "", "notify on new posts (true|false)")
	prefsCmd.Flags().StringVar(&prefsOnReply, "on-reply", "", "notify on replies (true|false)")
}
