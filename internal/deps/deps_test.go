package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"telecine/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: ""},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("results = %d, want %d", len(results), len(reqs))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("missing binary: %#v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unset command: %#v", results[2])
	}
}

func TestRequirementsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Encoder.FFmpegBinary = "/opt/ffmpeg"
	cfg.Encoder.FFprobeBinary = "/opt/ffprobe"

	reqs := Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("requirements = %d, want 2", len(reqs))
	}
	if reqs[0].Command != "/opt/ffmpeg" || reqs[1].Command != "/opt/ffprobe" {
		t.Fatalf("commands = %q, %q", reqs[0].Command, reqs[1].Command)
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		helperArgs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], helperArgs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("DEPS_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHasLibVMAF(t *testing.T) {
	setHelperCommand(t, "with-vmaf")
	status := HasLibVMAF(context.Background(), "ffmpeg")
	if !status.Available {
		t.Fatalf("libvmaf not detected: %#v", status)
	}

	setHelperCommand(t, "without-vmaf")
	status = HasLibVMAF(context.Background(), "ffmpeg")
	if status.Available {
		t.Fatal("libvmaf detected in a build without it")
	}
	if status.Detail != "ffmpeg built without libvmaf" {
		t.Fatalf("detail = %q", status.Detail)
	}

	status = HasLibVMAF(context.Background(), " ")
	if status.Available || status.Detail != "ffmpeg binary not configured" {
		t.Fatalf("unconfigured binary: %#v", status)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)
	switch os.Getenv("DEPS_HELPER_MODE") {
	case "with-vmaf":
		fmt.Println(" ... libvmaf          VV->V      Calculate the VMAF between two video streams.")
	case "without-vmaf":
		fmt.Println(" ... scale            V->V       Scale the input video size.")
	default:
		os.Exit(1)
	}
}
