// Package logging handles captured test output: ANSI hygiene and per-run
// failure logs.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
)

// CleanOutput strips ANSI escape sequences and trailing whitespace from
// captured test output, so summaries and failure logs stay readable when a
// test colors its output.
func CleanOutput(output string) string {
	return strings.TrimRight(stripansi.Strip(output), "\n\t ")
}

// FailureLog stores the captured output of failing tests under a per-run
// directory. Missing output or write errors are logged and swallowed: the
// log is diagnostic, never load-bearing for the verdict.
type FailureLog struct {
	dir string
	log log.Logger
}

// NewFailureLog creates the per-run failure log directory.
func NewFailureLog(baseDir, runID string, logger log.Logger) (*FailureLog, error) {
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create failure log directory: %w", err)
	}
	return &FailureLog{dir: dir, log: logger}, nil
}

// Record writes the cleaned output of a failing test to its own file.
func (f *FailureLog) Record(testName, output string) {
	if output == "" {
		return
	}
	path := filepath.Join(f.dir, testName+".log")
	if err := os.WriteFile(path, []byte(CleanOutput(output)+"\n"), 0o644); err != nil {
		f.log.Warn("Failed to write failure log", "test", testName, "err", err)
	}
}

// Dir returns the per-run directory holding the failure logs.
func (f *FailureLog) Dir() string {
	return f.dir
}
