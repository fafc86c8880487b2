package errkind

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	err := Wrap(ErrExternalTool, "encoder", "spawn", "ffmpeg not found", errors.New("exec: not found"))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected wrapped error to match ErrExternalTool, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "scheduler", "poll", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected nil marker to default to ErrTransient, got %v", err)
	}
}

func TestDisplayMessageStripsMarker(t *testing.T) {
	err := Wrap(ErrValidation, "recommend", "probe", "no video stream", nil)
	got := DisplayMessage(err)
	want := "recommend: probe: no video stream"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDisplayMessageNil(t *testing.T) {
	if got := DisplayMessage(nil); got != "" {
		t.Fatalf("expected empty message for nil error, got %q", got)
	}
}
