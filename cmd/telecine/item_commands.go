package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [itemID]",
		Short: "Pause the whole queue, or one running item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			if len(args) == 0 {
				if err := client.PauseAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue paused")
				return nil
			}
			id, err := resolveItemID(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			if err := client.ItemAction(cmd.Context(), id, "pause"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused item %s\n", shortID(id))
			return nil
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [itemID]",
		Short: "Resume the whole queue, or one paused item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			if len(args) == 0 {
				if err := client.ResumeAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				return nil
			}
			id, err := resolveItemID(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			if err := client.ItemAction(cmd.Context(), id, "resume"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed item %s\n", shortID(id))
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <itemID>",
		Short: "Cancel a queue item and remove partial output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			id, err := resolveItemID(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			if err := client.ItemAction(cmd.Context(), id, "cancel"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled item %s\n", shortID(id))
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <itemID>",
		Short: "Retry a failed queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			id, err := resolveItemID(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			if err := client.ItemAction(cmd.Context(), id, "retry"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s queued for retry\n", shortID(id))
			return nil
		},
	}
}

func newLimitCommand(ctx *commandContext) *cobra.Command {
	var pool string

	cmd := &cobra.Command{
		Use:   "limit <n>",
		Short: "Set how many items transcode at once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			applied, err := ctx.client().SetLimit(cmd.Context(), limit, pool)
			if err != nil {
				return err
			}
			if applied != limit {
				fmt.Fprintf(cmd.OutOrStdout(), "Limit clamped to %d\n", applied)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Concurrency limit set to %d\n", applied)
			return nil
		},
	}

	cmd.Flags().StringVar(&pool, "pool", "", "Batch pool to limit (video or audio); default is the single queue")
	return cmd
}

// resolveItemID accepts a full item ID or a unique prefix of one.
func resolveItemID(ctx context.Context, client *apiClient, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("item id is required")
	}
	items, err := client.QueueList(ctx, nil)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, item := range items {
		if item.ID == arg {
			return item.ID, nil
		}
		if strings.HasPrefix(item.ID, arg) {
			matches = append(matches, item.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no queue item matches %q", arg)
	default:
		return "", fmt.Errorf("%q matches %d items; use a longer prefix", arg, len(matches))
	}
}
