package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// Invocation records one executed (or unlocatable) test. Immutable after
// completion.
type Invocation struct {
	Name      string
	Suite     string
	Node      string // empty means local execution
	StartedAt time.Time
	ExitCode  int
	LogPath   string
	Class     api.Classification
}

// Summary aggregates invocations for a run. Failed counts both FAIL and
// NOT_FOUND: a check that could not be located is a harness defect, not a
// pass.
type Summary struct {
	Total       int
	Passed      int
	Failed      int
	Skipped     int
	Invocations []Invocation
	Failures    []Invocation
}

// Add folds one invocation into the summary.
func (s *Summary) Add(inv Invocation) {
	s.Total++
	s.Invocations = append(s.Invocations, inv)
	switch inv.Class {
	case api.ClassPass:
		s.Passed++
	case api.ClassSkipped:
		s.Skipped++
	default:
		s.Failed++
		s.Failures = append(s.Failures, inv)
	}
}

// Merge folds another summary into this one.
func (s *Summary) Merge(o Summary) {
	s.Total += o.Total
	s.Passed += o.Passed
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Invocations = append(s.Invocations, o.Invocations...)
	s.Failures = append(s.Failures, o.Failures...)
}

// Render returns the human-readable run summary written to summary.txt and
// printed at the end of a run.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tests run:     %d\n", s.Total)
	fmt.Fprintf(&b, "tests passed:  %d\n", s.Passed)
	fmt.Fprintf(&b, "tests failed:  %d\n", s.Failed)
	fmt.Fprintf(&b, "tests skipped: %d\n", s.Skipped)
	if len(s.Failures) > 0 {
		b.WriteString("\nfailures:\n")
		for _, f := range s.Failures {
			name := f.Name
			if f.Suite != "" && f.Suite != f.Name {
				name = f.Suite + "/" + f.Name
			}
			fmt.Fprintf(&b, "  %-12s %s (log: %s)\n", f.Class, name, f.LogPath)
		}
	}
	return b.String()
}

// classify maps a check's exit code to its classification.
func classify(exitCode int) api.Classification {
	switch exitCode {
	case 0:
		return api.ClassPass
	case api.ExitCodeSkip:
		return api.ClassSkipped
	default:
		return api.ClassFail
	}
}
