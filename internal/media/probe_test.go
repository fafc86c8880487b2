package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

func TestProbeRequiresPath(t *testing.T) {
	if _, err := Probe(context.Background(), "ffprobe", ""); err == nil {
		t.Fatal("expected error for empty source path")
	}
}

func TestProbeParsesStreams(t *testing.T) {
	setHelperCommand(t, "probe")

	result, err := Probe(context.Background(), "ffprobe", "/media/episode01.mkv")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if result.DurationSeconds != 1420.5 {
		t.Fatalf("duration = %f, want 1420.5", result.DurationSeconds)
	}
	video, ok := result.VideoTrack()
	if !ok {
		t.Fatal("expected video track")
	}
	if video.Codec != "h264" || video.Width != 1920 {
		t.Fatalf("unexpected video track: %+v", video)
	}
	audio := result.AudioTracks()
	if len(audio) != 2 {
		t.Fatalf("expected 2 audio tracks, got %d", len(audio))
	}
	if audio[0].Codec != "flac" || audio[0].BitrateKbps != 754 {
		t.Fatalf("unexpected first audio track: %+v", audio[0])
	}
	if audio[1].Language != "jpn" {
		t.Fatalf("expected language jpn, got %q", audio[1].Language)
	}
}

func TestProbeToolFailure(t *testing.T) {
	setHelperCommand(t, "fail")
	if _, err := Probe(context.Background(), "ffprobe", "/media/missing.mkv"); err == nil {
		t.Fatal("expected error when ffprobe exits nonzero")
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("PROBE_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("PROBE_HELPER_MODE") {
	case "probe":
		fmt.Println(`{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
    {"index": 1, "codec_name": "flac", "codec_type": "audio", "bit_rate": "754000", "channels": 2, "channel_layout": "stereo", "tags": {"language": "eng"}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio", "bit_rate": "192000", "channels": 2, "tags": {"language": "jpn"}},
    {"index": 3, "codec_name": "ass", "codec_type": "subtitle"}
  ],
  "format": {"format_name": "matroska,webm", "duration": "1420.500000"}
}`)
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "no such file")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
