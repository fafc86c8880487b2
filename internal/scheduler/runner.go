package scheduler

import (
	"context"

	"telecine/internal/config"
	"telecine/internal/encoder"
	"telecine/internal/media"
	"telecine/internal/processctl"
	"telecine/internal/qualitysearch"
)

// Encode is one in-flight encoder invocation the manager tracks.
type Encode interface {
	Handle() *processctl.Handle
	Wait() error
	PartialPath() string
}

// Runner launches encodes. The production implementation wraps the ffmpeg
// runner; tests substitute a fake to exercise scheduling without processes.
type Runner interface {
	Start(ctx context.Context, job encoder.Job, onProgress encoder.ProgressFunc) (Encode, error)
}

// Prober inspects a source file before scheduling.
type Prober interface {
	Probe(ctx context.Context, sourcePath string) (*media.Result, error)
}

// QualityPlanner runs the adaptive pre-pass that settles the encode quality
// before an item leaves analysis. Nil means no pre-pass.
type QualityPlanner interface {
	FindOptimalQuality(ctx context.Context, input string, durationSeconds float64, opts config.QualitySearch) (qualitysearch.Result, error)
}

// ProcessController is the suspend/resume/terminate surface the manager
// needs from the process controller.
type ProcessController interface {
	Suspend(h *processctl.Handle) bool
	Resume(h *processctl.Handle) bool
	Terminate(h *processctl.Handle, force bool)
	Capabilities() processctl.Capabilities
}

type ffmpegRunner struct {
	inner *encoder.Runner
}

// NewEncoderRunner adapts the ffmpeg runner to the Runner seam.
func NewEncoderRunner(inner *encoder.Runner) Runner {
	return ffmpegRunner{inner: inner}
}

func (r ffmpegRunner) Start(ctx context.Context, job encoder.Job, onProgress encoder.ProgressFunc) (Encode, error) {
	enc, err := r.inner.Start(ctx, job, onProgress)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

type ffprobeProber struct {
	binary string
}

// NewFFprobeProber adapts media.Probe to the Prober seam.
func NewFFprobeProber(binary string) Prober {
	return ffprobeProber{binary: binary}
}

func (p ffprobeProber) Probe(ctx context.Context, sourcePath string) (*media.Result, error) {
	return media.Probe(ctx, p.binary, sourcePath)
}
