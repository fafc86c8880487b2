package encoder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"telecine/internal/cleanup"
	"telecine/internal/errkind"
	"telecine/internal/logging"
	"telecine/internal/processctl"
	"telecine/internal/progress"
)

var commandContext = exec.CommandContext

// ProgressFunc receives each parsed progress record in arrival order.
type ProgressFunc func(progress.Record)

// Runner launches encoder processes through the process controller.
type Runner struct {
	logger *slog.Logger
	ctl    *processctl.Controller
	binary string
}

// NewRunner constructs a Runner for the given encoder binary.
func NewRunner(logger *slog.Logger, ctl *processctl.Controller, binary string) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		logger: logging.WithComponent(logger, "encoder"),
		ctl:    ctl,
		binary: binary,
	}
}

// Encode is one in-flight encoder invocation.
type Encode struct {
	job     Job
	handle  *processctl.Handle
	partial string
	scanned chan struct{}
	started time.Time
}

// Handle exposes the process handle for suspend/resume/terminate.
func (e *Encode) Handle() *processctl.Handle {
	return e.handle
}

// PartialPath returns the in-progress output location.
func (e *Encode) PartialPath() string {
	return e.partial
}

// Start validates the job, spawns the encoder writing to the partial path,
// and begins streaming progress to onProgress (which may be nil). The
// returned Encode must be waited on.
func (r *Runner) Start(ctx context.Context, job Job, onProgress ProgressFunc) (*Encode, error) {
	partial := cleanup.PartialPath(job.OutputPath)
	args, err := BuildArgs(job, partial)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, "encoder", "start", "cannot create output directory", err)
	}

	cmd := commandContext(ctx, r.binary, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrExternalTool, "encoder", "start", "cannot attach to encoder output", err)
	}

	handle, err := r.ctl.Start(cmd)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrExternalTool, "encoder", "start", "encoder failed to launch", err)
	}
	r.logger.Info("encoder started",
		logging.String("kind", string(job.Kind)),
		logging.String("input", job.InputPath),
		logging.Int("pid", handle.PID()))

	enc := &Encode{
		job:     job,
		handle:  handle,
		partial: partial,
		scanned: make(chan struct{}),
		started: time.Now(),
	}
	go enc.scan(stderr, onProgress)
	return enc, nil
}

// scan reads encoder diagnostics line by line, forwarding parsed progress.
// The encoder emits progress with carriage returns, so the scanner splits on
// both CR and LF.
func (e *Encode) scan(pipe interface{ Read([]byte) (int, error) }, onProgress ProgressFunc) {
	defer close(e.scanned)
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := scanner.Text()
		if !progress.IsProgressLine(line) {
			continue
		}
		if onProgress == nil {
			continue
		}
		partial := progress.Parse(line)
		onProgress(progress.BuildRecord(partial, e.job.DurationSeconds, e.started, time.Now()))
	}
}

// Wait blocks until the encoder exits and, on success, renames the partial
// output into place. Exit code zero is the only success signal.
func (e *Encode) Wait() error {
	<-e.scanned
	if err := e.handle.Wait(); err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return errkind.Wrap(errkind.ErrExternalTool, "encoder", "wait",
			exitMessage(code), err)
	}
	if err := os.Rename(e.partial, e.job.OutputPath); err != nil {
		return errkind.Wrap(errkind.ErrExternalTool, "encoder", "finalize",
			"encode succeeded but output could not be moved into place", err)
	}
	return nil
}

func exitMessage(code int) string {
	if code < 0 {
		return "encoder terminated abnormally"
	}
	return fmt.Sprintf("encoder exited with code %d", code)
}

// scanCRLF splits on \n or \r so in-place progress updates become lines.
func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
