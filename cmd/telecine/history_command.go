package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished items",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ctx.client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "History is empty")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := ""
				if entry.ErrorMessage != "" {
					detail = entry.ErrorMessage
				}
				rows = append(rows, []string{
					shortID(entry.ItemID),
					filepath.Base(entry.InputPath),
					string(entry.Status),
					entry.RecordedAt.Local().Format("2006-01-02 15:04"),
					detail,
				})
			}
			table := renderTable([]string{"ID", "File", "Status", "Recorded", "Detail"}, rows)
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit history as JSON")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().TestNotification(cmd.Context())
			if err != nil {
				return err
			}
			if result.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			}
			if !result.OK {
				fmt.Fprintln(cmd.OutOrStdout(), "Configure notifications.ntfy_topic to enable notifications")
			}
			return nil
		},
	}
}
