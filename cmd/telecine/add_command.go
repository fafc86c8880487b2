package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telecine/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var output string
	var videoEncoder string
	var preset string
	var quality int
	var audioEncoder string
	var audioBitrate int
	var container string
	var skipTranscode bool

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Queue a video file for transcoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := queue.Settings{
				VideoEncoder:     videoEncoder,
				Preset:           preset,
				Quality:          quality,
				AudioEncoder:     audioEncoder,
				AudioBitrateKbps: audioBitrate,
				Container:        container,
				SkipTranscode:    skipTranscode,
			}
			item, err := ctx.client().QueueAdd(cmd.Context(), args[0], output, settings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %s\n", item.InputPath)
			fmt.Fprintf(out, "  id:     %s\n", item.ID)
			fmt.Fprintf(out, "  output: %s\n", item.OutputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (derived from the input when omitted)")
	cmd.Flags().StringVar(&videoEncoder, "video-encoder", "", "Override the configured video encoder")
	cmd.Flags().StringVar(&preset, "preset", "", "Override the configured encoder preset")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "CRF quality value (0 uses the configured default)")
	cmd.Flags().StringVar(&audioEncoder, "audio-encoder", "", "Override the configured audio encoder")
	cmd.Flags().IntVar(&audioBitrate, "audio-bitrate", 0, "Audio bitrate in kbps (0 uses the configured default)")
	cmd.Flags().StringVar(&container, "container", "", "Output container (mkv, mp4, webm)")
	cmd.Flags().BoolVar(&skipTranscode, "skip-transcode", false, "Mark the item skipped after analysis")
	return cmd
}
