package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"telecine/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the transcode queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ctx.client().QueueList(cmd.Context(), listStatuses)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					shortID(item.ID),
					filepath.Base(item.InputPath),
					string(item.Status),
					progressCell(item),
					item.AddedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			table := renderTable([]string{"ID", "File", "Status", "Progress", "Added"}, rows, 3)
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit items as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <itemID>",
		Short: "Show one queue item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := ctx.client().QueueItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, item)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Item %s\n", item.ID)
			fmt.Fprintf(out, "  input:    %s\n", item.InputPath)
			fmt.Fprintf(out, "  output:   %s\n", item.OutputPath)
			fmt.Fprintf(out, "  status:   %s\n", item.Status)
			if item.DurationSeconds > 0 {
				fmt.Fprintf(out, "  duration: %s\n", formatSecondsClock(item.DurationSeconds))
			}
			if item.Progress != nil {
				fmt.Fprintf(out, "  progress: %.1f%%", item.Progress.Percent)
				if item.Progress.HasETA {
					fmt.Fprintf(out, " (eta %s)", formatSecondsClock(item.Progress.ETASeconds))
				}
				fmt.Fprintln(out)
			}
			if item.ErrorMessage != "" {
				fmt.Fprintf(out, "  error:    %s\n", item.ErrorMessage)
			}
			fmt.Fprintf(out, "  added:    %s\n", item.AddedAt.Local().Format(time.RFC3339))
			if !item.FinishedAt.IsZero() {
				fmt.Fprintf(out, "  finished: %s\n", item.FinishedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the item as JSON")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <itemID>",
		Short: "Remove a non-active item from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().RemoveItem(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed item %s\n", args[0])
			return nil
		},
	}
}

func progressCell(item *queue.Item) string {
	if item.Progress == nil {
		return ""
	}
	cell := fmt.Sprintf("%.1f%%", item.Progress.Percent)
	if item.Progress.HasETA {
		cell += " eta " + formatSecondsClock(item.Progress.ETASeconds)
	}
	return cell
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSecondsClock(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
