package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"telecine/internal/config"
)

func TestCheckDirectoryAccessOK(t *testing.T) {
	result := CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccessNotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccessNotDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", file)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	result := CheckNtfy(context.Background(), srv.URL+"/telecine")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	result = CheckNtfy(context.Background(), "just-a-topic-name")
	if result.Passed {
		t.Fatal("bare topic names must be reported")
	}
	if !result.Optional {
		t.Fatal("ntfy problems must stay optional")
	}
}

func TestRunAllCoversConfiguredSurfaces(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.OutputDir = base
	cfg.Paths.LogDir = base
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(base, "history.db")
	cfg.QualitySearch.Enabled = false
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg)

	names := map[string]Result{}
	for _, result := range results {
		names[result.Name] = result
	}
	if _, ok := names["Staging directory"]; !ok {
		t.Fatal("staging directory not checked")
	}
	if names["Staging directory"].Passed {
		t.Fatal("missing staging dir reported as passing")
	}
	if !names["History directory"].Passed {
		t.Fatalf("history dir: %s", names["History directory"].Detail)
	}
	if _, ok := names["FFmpeg"]; !ok {
		t.Fatal("ffmpeg binary not checked")
	}

	failed := Failed(results)
	for _, result := range failed {
		if result.Optional {
			t.Fatalf("optional check %q in hard failures", result.Name)
		}
	}
}
