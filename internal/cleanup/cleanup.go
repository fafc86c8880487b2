// Package cleanup removes partial encoder output after cancellation or
// failure. Removal is best effort and never raises: the caller's cancel must
// succeed regardless, so outcomes are returned as an explicit report that
// tests can assert on.
package cleanup

import (
	"os"
	"path/filepath"
	"strings"
)

// partialSuffixes is the suffix convention marking in-progress output.
var partialSuffixes = []string{".part", ".tmp"}

// Report summarizes one cleanup pass.
type Report struct {
	Deleted []string `json:"deleted,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// IsPartialName reports whether a file name follows the partial-output
// suffix convention.
func IsPartialName(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// PartialPath derives the in-progress path the encoder writes to before the
// final rename.
func PartialPath(outputPath string) string {
	return outputPath + ".part"
}

// RemovePartials deletes partial files belonging to outputPath from its
// directory. Files count as belonging when their name starts with the
// output's base name and carries a partial suffix.
func RemovePartials(outputPath string) Report {
	var report Report
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return report
	}

	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, base) || !IsPartialName(name) {
			continue
		}
		full := filepath.Join(dir, name)
		if err := os.Remove(full); err != nil {
			report.Failed = append(report.Failed, full)
			continue
		}
		report.Deleted = append(report.Deleted, full)
	}
	return report
}
