package deps

import (
	"context"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// HasLibVMAF reports whether the ffmpeg build exposes the libvmaf filter,
// which the adaptive quality search needs for scoring.
func HasLibVMAF(ctx context.Context, ffmpegBinary string) Status {
	status := Status{
		Name:        "libvmaf",
		Command:     strings.TrimSpace(ffmpegBinary),
		Description: "Required for adaptive quality search scoring",
		Optional:    true,
	}
	if status.Command == "" {
		status.Detail = "ffmpeg binary not configured"
		return status
	}
	cmd := commandContext(ctx, status.Command, "-hide_banner", "-filters")
	output, err := cmd.CombinedOutput()
	if err != nil {
		status.Detail = "could not query ffmpeg filters"
		return status
	}
	if !strings.Contains(string(output), "libvmaf") {
		status.Detail = "ffmpeg built without libvmaf"
		return status
	}
	status.Available = true
	return status
}
