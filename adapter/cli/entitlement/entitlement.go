package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/adapter/cli"
	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// Cmd is the entitlement command group.
var Cmd = &cobra.Command{
	Use:     "entitlement",
	Aliases: []string{"ent"},
	Short:   "Manage likes and subscriptions",
	Long: `Toggle likes and subscriptions, update notification preferences and
inspect entitlement records and their audit trail.`,
}

var (
	subjectID  string
	outputJSON bool
)

func init() {
	Cmd.PersistentFlags().StringVar(&subjectID, "subject", "", "subject to act on (defaults to the operator)")
	Cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")

	Cmd.AddCommand(toggleCmd)
	Cmd.AddCommand(setCmd)
	Cmd.AddCommand(prefsCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(countCmd)
	Cmd.AddCommand(historyCmd)
	Cmd.AddCommand(auditCmd)
}

func requireApp() (*cli.App, error) {
	app := cli.GetApp()
	if app == nil || app.Reconciler == nil || app.Queries == nil {
		return nil, errors.New("entitlement commands require database connection")
	}
	return app, nil
}

// key builds the key for a kind and resource argument pair.
func key(app *cli.App, kindArg, resourceID string) (domain.Key, error) {
	kind, err := domain.ParseKind(kindArg)
	if err != nil {
		return domain.Key{}, err
	}
	subject := subjectID
	if subject == "" {
		subject = app.Principal.SubjectID
	}
	return domain.NewKey(subject, resourceID, kind)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateWord(kind domain.Kind, enabled bool) string {
	switch {
	case kind == domain.KindLike && enabled:
		return "liked"
	case kind == domain.KindLike:
		return "not liked"
	case enabled:
		return "subscribed"
	default:
		return "not subscribed"
	}
}

func printRecord(w io.Writer, r *domain.Record) {
	fmt.Fprintf(w, "%-14s %-24s %-10s v%d\n", r.Kind, r.ResourceID, r.State, r.Version)
	for _, name := range slices.Sorted(maps.Keys(r.Attributes)) {
		fmt.Fprintf(w, "  %s=%s\n", name, r.Attributes[name])
	}
}

// printResult reports a mutation. A partial failure still changed the
// record, so it is printed with a warning instead of failing the command.
func printResult(cmd *cobra.Command, res application.Result, err error) error {
	if err != nil && !errors.Is(err, domain.ErrPartialFailure) {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, map[string]any{
			"outcome":        res.Outcome,
			"enabled":        res.Enabled(),
			"audit_recorded": err == nil,
			"record":         res.Record,
		})
	}

	fmt.Fprintf(out, "Outcome: %s\n", res.Outcome)
	if res.Record != nil {
		printRecord(out, res.Record)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: change applied but the audit entry was not recorded")
	}
	return nil
}

func parseAttributes(pairs []string) (domain.Attributes, error) {
	attrs := make(domain.Attributes, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", domain.ErrInvalidAttributes, pair)
		}
		attrs[name] = value
	}
	return attrs, nil
}
