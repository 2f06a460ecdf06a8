package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/adapter/cli"
	settingsDomain "github.com/felixgeelhaar/agora/internal/settings/domain"
)

var Cmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage site settings",
}

var settingsJSON bool

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show site settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Settings == nil {
			return errors.New("settings service not configured")
		}

		s, err := app.Settings.Get(cmd.Context())
		if err != nil {
			return err
		}
		values := s.Values()

		if len(args) == 1 {
			value, ok := values[args[0]]
			if !ok {
				return fmt.Errorf("%w: %s", settingsDomain.ErrUnknownSetting, args[0])
			}
			if settingsJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{args[0]: value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		}

		if settingsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
		}
		for _, key := range settingsDomain.Keys() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", key, values[key])
		}
		if s.UpdatedBy != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast updated by %s at %s\n", s.UpdatedBy, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Update site settings",
	Long: `Update one or more site settings in a single change.

Examples:
  agora settings set site_title="Town Square"
  agora settings set newsletter_enabled=false contact_email=hello@example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Settings == nil {
			return errors.New("settings service not configured")
		}

		updates := make(map[string]string, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return fmt.Errorf("expected key=value, got %q", arg)
			}
			updates[key] = value
		}

		s, err := app.Settings.Update(cmd.Context(), app.Principal, updates)
		if err != nil {
			return err
		}
		if settingsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %d setting(s).\n", len(updates))
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().BoolVar(&settingsJSON, "json", false, "output as JSON")
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(setCmd)
}
