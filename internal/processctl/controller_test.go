package processctl

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func TestCapabilitiesReported(t *testing.T) {
	caps := New(nil).Capabilities()
	switch runtime.GOOS {
	case "windows":
		if !caps.Available || caps.Method != MethodPlatformAPI {
			t.Fatalf("unexpected capabilities on windows: %+v", caps)
		}
	default:
		if !caps.Available || caps.Method != MethodSignal {
			t.Fatalf("unexpected capabilities: %+v", caps)
		}
	}
}

func TestSuspendRejectsNilHandle(t *testing.T) {
	ctl := New(nil)
	if ctl.Suspend(nil) {
		t.Fatal("expected suspend of nil handle to fail cleanly")
	}
	if ctl.Resume(nil) {
		t.Fatal("expected resume of nil handle to fail cleanly")
	}
}

func TestSuspendResumeTerminateTree(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("helper process relies on unix signals")
	}
	ctl := New(nil)
	cmd := Command(context.Background(), os.Args[0], "-test.run=TestHelperSleeper")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	handle, err := ctl.Start(cmd)
	if err != nil {
		t.Fatalf("start helper: %v", err)
	}
	defer ctl.Terminate(handle, true)

	if handle.PID() <= 0 {
		t.Fatal("expected positive pid")
	}
	if !ctl.Suspend(handle) {
		t.Fatal("expected suspend to succeed")
	}
	if !ctl.Resume(handle) {
		t.Fatal("expected resume to succeed")
	}

	ctl.Terminate(handle, true)
	done := make(chan error, 1)
	go func() { done <- handle.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminated process did not exit")
	}
}

func TestStartFailureSurfacesError(t *testing.T) {
	ctl := New(nil)
	cmd := exec.CommandContext(context.Background(), "/nonexistent/encoder-binary")
	if _, err := ctl.Start(cmd); err == nil {
		t.Fatal("expected error starting missing binary")
	}
}

func TestHelperSleeper(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	time.Sleep(time.Minute)
	os.Exit(0)
}
