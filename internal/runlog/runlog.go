// Package runlog manages the persisted artifacts of one run: a timestamped
// directory holding the run-wide log, the deployment and per-test logs, and
// the final textual summary.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runner"
)

// RunLog is the handle on one run's log directory.
type RunLog struct {
	Dir     string
	logFile *os.File
}

// New creates the per-run directory and opens the run-wide log file.
func New(dir string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "run.log"))
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	return &RunLog{Dir: dir, logFile: f}, nil
}

// Logger returns a logger writing both to the console writer and the
// per-run log file.
func (r *RunLog) Logger(console io.Writer, level zerolog.Level) zerolog.Logger {
	w := zerolog.MultiLevelWriter(console, r.logFile)
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WriteSummary persists the rendered run summary and returns its path.
func (r *RunLog) WriteSummary(sum runner.Summary) (string, error) {
	path := filepath.Join(r.Dir, "summary.txt")
	if err := os.WriteFile(path, []byte(sum.Render()), 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// Close flushes and closes the run-wide log file.
func (r *RunLog) Close() error {
	return r.logFile.Close()
}
