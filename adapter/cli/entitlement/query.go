package entitlement

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	listKind     string
	historyLimit int
)

var getCmd = &cobra.Command{
	Use:   "get <kind> <resource-id>",
	Short: "Show one entitlement record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		k, err := key(app, args[0], args[1])
		if err != nil {
			return err
		}

		record, err := app.Queries.Get(cmd.Context(), app.Principal, k)
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"enabled": record != nil && record.State == domain.StateOn,
				"record":  record,
			})
		}
		if record == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "No %s record for %s\n", k.Kind, k.ResourceID)
			return nil
		}
		printRecord(cmd.OutOrStdout(), record)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a subject's entitlement records",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		subject := subjectID
		if subject == "" {
			subject = app.Principal.SubjectID
		}

		records, err := app.Queries.List(cmd.Context(), app.Principal, subject, domain.Kind(listKind))
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No records.")
			return nil
		}
		for _, r := range records {
			printRecord(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <kind> <resource-id>",
	Short: "Count the records on a resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		kind, err := domain.ParseKind(args[0])
		if err != nil {
			return err
		}

		n, err := app.Queries.Count(cmd.Context(), args[1], kind)
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"resource_id": args[1], "kind": kind, "count": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <kind> <resource-id>",
	Short: "Show the audit trail of one key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		k, err := key(app, args[0], args[1])
		if err != nil {
			return err
		}

		entries, err := app.Queries.History(cmd.Context(), app.Principal, k, historyLimit)
		if err != nil {
			return err
		}
		return printAudit(cmd, entries)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show every audit entry of a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		subject := subjectID
		if subject == "" {
			subject = app.Principal.SubjectID
		}

		entries, err := app.Queries.SubjectAudit(cmd.Context(), app.Principal, subject, historyLimit)
		if err != nil {
			return err
		}
		return printAudit(cmd, entries)
	},
}

func printAudit(cmd *cobra.Command, entries []*domain.AuditEntry) error {
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s %-24s %s -> %s  by %s",
			e.OccurredAt.Format("2006-01-02 15:04:05"), e.Kind, e.ResourceID, e.OldState, e.NewState, e.ChangedBy)
		if e.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  (%s)", e.Reason)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func init() {
	listCmd.Flags().StringVar(&listKind, "kind", "", "only records of this kind")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries")
	auditCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries")
}
