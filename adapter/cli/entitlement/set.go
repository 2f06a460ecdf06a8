package entitlement

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	setEnabled bool
	setNotify  string
	setReason  string
	setAttrs   []string
)

var setCmd = &cobra.Command{
	Use:   "set <like|subscription> <resource-id>",
	Short: "Set a like or subscription to an absolute value",
	Long: `Enable or disable a like or subscription. Repeating the command with
the same value changes nothing.

Examples:
  agora entitlement set like post-42 --enabled
  agora entitlement set subscription thread-7 --enabled --notify author-3 --attr notify_on_reply=false
  agora entitlement set subscription thread-7 --enabled=false --reason "muted"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		k, err := key(app, args[0], args[1])
		if err != nil {
			return err
		}
		attrs, err := parseAttributes(setAttrs)
		if err != nil {
			return err
		}

		action := domain.ActionDisable
		if setEnabled {
			action = domain.ActionEnable
		}
		res, err := app.Reconciler.Reconcile(cmd.Context(), app.Principal, domain.Intent{
			SubjectID:       k.SubjectID,
			ResourceID:      k.ResourceID,
			Kind:            k.Kind,
			Action:          action,
			Attributes:      attrs,
			NotifySubjectID: setNotify,
			Reason:          setReason,
		})
		return printResult(cmd, res, err)
	},
}

func init() {
	setCmd.Flags().BoolVar(&setEnabled, "enabled", true, "target value")
	setCmd.Flags().StringVar(&setNotify, "notify", "", "subject to notify when the record is created")
	setCmd.Flags().StringVar(&setReason, "reason", "", "reason recorded in the audit trail")
	setCmd.Flags().StringArrayVar(&setAttrs, "attr", nil, "attribute as name=value (repeatable)")
}
