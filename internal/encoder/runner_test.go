package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"telecine/internal/errkind"
	"telecine/internal/processctl"
	"telecine/internal/progress"
)

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		helperArgs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], helperArgs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("ENCODER_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func testJob(t *testing.T) Job {
	t.Helper()
	dir := t.TempDir()
	return Job{
		Kind:            KindVideo,
		InputPath:       filepath.Join(dir, "in.mkv"),
		OutputPath:      filepath.Join(dir, "out.mkv"),
		DurationSeconds: 40,
		VideoEncoder:    "libsvtav1",
		Quality:         27,
		Container:       "mkv",
	}
}

func TestRunnerSuccessRenamesPartial(t *testing.T) {
	setHelperCommand(t, "ok")
	runner := NewRunner(nil, processctl.New(nil), "ffmpeg")
	job := testJob(t)

	var records []progress.Record
	enc, err := runner.Start(context.Background(), job, func(rec progress.Record) {
		records = append(records, rec)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := enc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		t.Fatal("final output missing after successful encode")
	}
	if _, err := os.Stat(enc.PartialPath()); !os.IsNotExist(err) {
		t.Fatal("partial file must be renamed away on success")
	}
	if len(records) == 0 {
		t.Fatal("expected progress records")
	}
	last := records[len(records)-1]
	if last.Percent <= 0 || last.Percent > 100 {
		t.Fatalf("last percent = %f", last.Percent)
	}
	if !last.HasETA {
		t.Fatal("records with speed must carry an ETA")
	}
}

func TestRunnerFailureKeepsNoOutput(t *testing.T) {
	setHelperCommand(t, "fail")
	runner := NewRunner(nil, processctl.New(nil), "ffmpeg")
	job := testJob(t)

	enc, err := runner.Start(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = enc.Wait()
	if !errors.Is(err, errkind.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, statErr := os.Stat(job.OutputPath); !os.IsNotExist(statErr) {
		t.Fatal("failed encode must not produce a final output")
	}
}

func TestRunnerContextCancellation(t *testing.T) {
	setHelperCommand(t, "hang")
	runner := NewRunner(nil, processctl.New(nil), "ffmpeg")
	job := testJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	enc, err := runner.Start(ctx, job, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- enc.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("cancelled encode must not report success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("ENCODER_HELPER_MODE") {
	case "ok":
		fmt.Fprintln(os.Stderr, "Stream mapping:")
		fmt.Fprintln(os.Stderr, "frame=  120 fps= 30 q=28.0 size=     256KiB time=00:00:04.00 bitrate= 512.0kbits/s speed=2.5x")
		fmt.Fprintln(os.Stderr, "frame=  600 fps= 30 q=28.0 size=    1024KiB time=00:00:20.00 bitrate= 512.0kbits/s speed=2.5x")
		if len(args) > 0 {
			os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644)
		}
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "Error while opening encoder for output stream")
		os.Exit(1)
	case "hang":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
