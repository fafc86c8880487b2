package qualitysearch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"telecine/internal/errkind"
)

var commandContext = exec.CommandContext

// vmafScoreRe matches the summary line libvmaf prints on stderr.
var vmafScoreRe = regexp.MustCompile(`VMAF score[:=]\s*([0-9.]+)`)

// FFmpegTooling implements SampleEncoder and Scorer with ffmpeg: trial
// encodes with the configured video encoder and VMAF scoring via the
// libvmaf filter.
type FFmpegTooling struct {
	binary       string
	videoEncoder string
	preset       string
	workDir      string
}

// NewFFmpegTooling constructs the production tooling. workDir holds the
// sample renditions; the caller owns its cleanup.
func NewFFmpegTooling(binary, videoEncoder, preset, workDir string) *FFmpegTooling {
	return &FFmpegTooling{
		binary:       binary,
		videoEncoder: videoEncoder,
		preset:       preset,
		workDir:      workDir,
	}
}

// EncodeSample produces one trial rendition of the sample window.
func (t *FFmpegTooling) EncodeSample(ctx context.Context, input string, sample Sample, quality int) (string, error) {
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return "", errkind.Wrap(errkind.ErrConfiguration, "qualitysearch", "encode sample", "cannot create work directory", err)
	}
	out := filepath.Join(t.workDir, fmt.Sprintf("sample_q%d_s%d.mkv", quality, int(sample.StartSeconds)))
	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-ss", formatSeconds(sample.StartSeconds),
		"-t", formatSeconds(sample.DurationSeconds),
		"-i", input,
		"-map", "0:v:0", "-an", "-sn",
		"-c:v", t.videoEncoder,
		"-crf", strconv.Itoa(quality),
	}
	if t.preset != "" {
		args = append(args, "-preset", t.preset)
	}
	args = append(args, out)

	cmd := commandContext(ctx, t.binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", errkind.Wrap(errkind.ErrExternalTool, "qualitysearch", "encode sample",
			firstLine(string(output)), err)
	}
	return out, nil
}

// Score runs libvmaf over the rendition against the same window of the
// reference and parses the summary score.
func (t *FFmpegTooling) Score(ctx context.Context, reference, distorted string, sample Sample) (float64, error) {
	args := []string{
		"-hide_banner", "-nostdin",
		"-i", distorted,
		"-ss", formatSeconds(sample.StartSeconds),
		"-t", formatSeconds(sample.DurationSeconds),
		"-i", reference,
		"-lavfi", "libvmaf",
		"-f", "null", "-",
	}
	cmd := commandContext(ctx, t.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, errkind.Wrap(errkind.ErrExternalTool, "qualitysearch", "score",
			firstLine(string(output)), err)
	}
	m := vmafScoreRe.FindStringSubmatch(string(output))
	if len(m) < 2 {
		return 0, errkind.Wrap(errkind.ErrExternalTool, "qualitysearch", "score",
			"no VMAF score in encoder output", nil)
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.ErrExternalTool, "qualitysearch", "score",
			"malformed VMAF score", err)
	}
	return score, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "encoder produced no diagnostics"
	}
	return s
}
