// Package preflight provides readiness checks for the filesystem paths and
// external tools telecine depends on.
//
// The daemon runs RunAll once at startup and logs failures; the CLI doctor
// command renders the same results for the operator. Checks gated by a config
// toggle are skipped when the feature is disabled.
package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"telecine/internal/config"
	"telecine/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) != "" {
		results = append(results, CheckDirectoryAccess("History directory", filepath.Dir(cfg.History.Path)))
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, fromDepStatus(status))
	}
	if cfg.QualitySearch.Enabled {
		results = append(results, fromDepStatus(deps.HasLibVMAF(ctx, cfg.Encoder.FFmpegBinary)))
	}

	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		results = append(results, CheckNtfy(ctx, topic))
	}

	return results
}

// Failed filters results down to hard failures, ignoring optional checks.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			failed = append(failed, result)
		}
	}
	return failed
}

func fromDepStatus(status deps.Status) Result {
	detail := status.Detail
	if status.Available {
		detail = status.Command
	}
	return Result{
		Name:     status.Name,
		Passed:   status.Available,
		Optional: status.Optional,
		Detail:   detail,
	}
}
