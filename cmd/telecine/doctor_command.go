package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telecine/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, binaries, and services telecine needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)

			rows := make([][]string, 0, len(results))
			for _, result := range results {
				state := "FAIL"
				if result.Passed {
					state = "OK"
				} else if result.Optional {
					state = "WARN"
				}
				rows = append(rows, []string{result.Name, state, result.Detail})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Check", "State", "Detail"}, rows))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight checks failed", len(failed))
			}
			return nil
		},
	}
}
