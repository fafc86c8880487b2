package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"telecine/internal/config"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/media"
	"telecine/internal/qualitysearch"
	"telecine/internal/recommend"
)

// The probe, recommend, and quality commands run locally against the source
// file; they never talk to the daemon.

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Inspect a video file's tracks with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := media.Probe(cmd.Context(), cfg.Encoder.FFprobeBinary, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %s)\n", result.Path, result.Container, formatSecondsClock(result.DurationSeconds))
			rows := make([][]string, 0, len(result.Tracks))
			for _, track := range result.Tracks {
				detail := ""
				switch track.Type {
				case media.TrackVideo:
					detail = fmt.Sprintf("%dx%d", track.Width, track.Height)
				case media.TrackAudio:
					detail = fmt.Sprintf("%dch %s", track.Channels, track.ChannelLayout)
					if track.BitrateKbps > 0 {
						detail += fmt.Sprintf(" %d kb/s", track.BitrateKbps)
					}
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", track.Index),
					string(track.Type),
					track.Codec,
					track.Language,
					detail,
				})
			}
			fmt.Fprint(out, renderTable([]string{"#", "Type", "Codec", "Lang", "Detail"}, rows, 0))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the probe result as JSON")
	return cmd
}

func newRecommendCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recommend <file>",
		Short: "Show per-track transcode recommendations for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe, err := media.Probe(cmd.Context(), cfg.Encoder.FFprobeBinary, args[0])
			if err != nil {
				return err
			}
			result := recommend.Recommend(probe, recommend.Options{
				TargetVideoFamily:       cfg.Encoder.TargetVideoFamily,
				AudioAcceptableCodecs:   cfg.Encoder.AudioAcceptableCodecs,
				AudioBitrateCeilingKbps: cfg.Encoder.AudioBitrateCeilingKbps,
			})
			if asJSON {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			var rows [][]string
			if result.HasVideo {
				rows = append(rows, []string{"video", string(result.Video.Action), result.Video.Reason})
			}
			indexes := make([]int, 0, len(result.Audio))
			for index := range result.Audio {
				indexes = append(indexes, index)
			}
			sort.Ints(indexes)
			for _, index := range indexes {
				rec := result.Audio[index]
				rows = append(rows, []string{fmt.Sprintf("audio %d", index), string(rec.Action), rec.Reason})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No video or audio tracks found")
				return nil
			}
			fmt.Fprint(out, renderTable([]string{"Track", "Action", "Reason"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit recommendations as JSON")
	return cmd
}

func newQualityCommand(ctx *commandContext) *cobra.Command {
	var target float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "quality <file>",
		Short: "Search for the most compressed quality that holds a VMAF target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe, err := media.Probe(cmd.Context(), cfg.Encoder.FFprobeBinary, args[0])
			if err != nil {
				return err
			}

			opts := cfg.QualitySearch
			if target > 0 {
				opts.TargetScore = target
			}

			workDir, err := os.MkdirTemp(cfg.Paths.StagingDir, "quality-*")
			if err != nil {
				workDir, err = os.MkdirTemp("", "telecine-quality-*")
				if err != nil {
					return fmt.Errorf("create work directory: %w", err)
				}
			}
			defer os.RemoveAll(workDir)

			tooling := qualitysearch.NewFFmpegTooling(
				cfg.Encoder.FFmpegBinary,
				cfg.Encoder.VideoEncoder,
				cfg.Encoder.VideoPreset,
				workDir,
			)

			bus := events.NewBus()
			defer bus.Close()
			go reportQualityProgress(cmd, bus, opts)

			search := qualitysearch.New(logging.NewNop(), bus, tooling, tooling)
			result, err := search.FindOptimalQuality(cmd.Context(), probe.Path, probe.DurationSeconds, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Quality %d scores %.2f over %d samples (%d iterations)\n",
				result.Quality, result.AchievedScore, len(result.Samples), result.Iterations)
			if !result.TargetMet {
				fmt.Fprintf(out, "Target %.1f not met; quality %d was the least compressed value tried\n",
					opts.TargetScore, result.Quality)
			}
			return nil
		},
	}

	cmd.Flags().Float64VarP(&target, "target", "t", 0, "VMAF target score (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the search result as JSON")
	return cmd
}

func reportQualityProgress(cmd *cobra.Command, bus *events.Bus, opts config.QualitySearch) {
	sub := bus.Subscribe(64)
	defer sub.Close()
	for evt := range sub.C {
		if evt.Kind != events.KindQualitySearchProgress || evt.Search == nil {
			continue
		}
		step := evt.Search
		fmt.Fprintf(cmd.ErrOrStderr(), "iteration %d/%d: quality %d, sample %d/%d\n",
			step.Iteration, opts.MaxIterations, step.Quality, step.Sample, step.TotalSamples)
	}
}
