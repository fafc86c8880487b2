package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"telecine/internal/daemon"
	"telecine/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeStatusLine(out, "Daemon", runLabel(status.Running), colorize, ansiGreen)
			writeStatusLine(out, "PID", fmt.Sprintf("%d", status.PID), colorize, "")
			writeStatusLine(out, "Processing", yesNo(status.Processing), colorize, "")
			if status.Paused {
				writeStatusLine(out, "Paused", "yes", colorize, ansiYellow)
			} else {
				writeStatusLine(out, "Paused", "no", colorize, "")
			}
			writeStatusLine(out, "Max concurrent", fmt.Sprintf("%d", status.MaxConcurrent), colorize, "")
			writeStatusLine(out, "Pause support", capabilityLabel(status), colorize, "")
			writeStatusLine(out, "Uptime", formatUptime(status.UptimeSeconds), colorize, "")
			writeStatusLine(out, "Lock file", status.LockFilePath, colorize, "")

			rows := countRows(status.Counts)
			if len(rows) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, 1))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	return cmd
}

func writeStatusLine(out io.Writer, label, value string, colorize bool, color string) {
	line := fmt.Sprintf("  %-16s %s", label+":", value)
	if colorize && color != "" {
		line = color + line + ansiReset
	}
	fmt.Fprintln(out, line)
}

func runLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func capabilityLabel(status daemon.Status) string {
	if !status.Capabilities.Available {
		return "unavailable"
	}
	return string(status.Capabilities.Method)
}

// countRows lists every known status in lifecycle order, skipping zeroes.
func countRows(counts map[queue.Status]int) [][]string {
	order := []queue.Status{
		queue.StatusPending,
		queue.StatusAnalyzing,
		queue.StatusReady,
		queue.StatusTranscoding,
		queue.StatusPaused,
		queue.StatusCompleted,
		queue.StatusError,
		queue.StatusCancelled,
		queue.StatusSkipped,
	}
	var rows [][]string
	for _, status := range order {
		if count := counts[status]; count > 0 {
			rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
		}
	}
	return rows
}

func formatUptime(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
