package config

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// CleanupPolicy controls what happens to a Starting/Running cluster when a
// run ends, whether by success, failure or interruption.
type CleanupPolicy int

const (
	// CleanupAuto stops the cluster on every exit path.
	CleanupAuto CleanupPolicy = iota
	// CleanupPreserve leaves the cluster as-is (--no-cleanup).
	CleanupPreserve
	// CleanupInteractive asks the operator before stopping (--interactive).
	CleanupInteractive
)

func (p CleanupPolicy) String() string {
	switch p {
	case CleanupPreserve:
		return "preserve"
	case CleanupInteractive:
		return "interactive"
	default:
		return "auto"
	}
}

// RunContext is the process-wide state of one tool invocation. It is built
// once at flag-parse time and passed into every component constructor;
// nothing mutates it afterwards.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	LogDir    string
	Cleanup   CleanupPolicy
	Logger    zerolog.Logger
}

// NewRunContext stamps a run identity from the wall clock. LogDir is the
// per-run directory under the configured log root; callers create it on
// first use.
func NewRunContext(logRoot string, cleanup CleanupPolicy, logger zerolog.Logger) RunContext {
	now := time.Now()
	id := now.Format("20060102-150405")
	return RunContext{
		RunID:     id,
		StartedAt: now,
		LogDir:    filepath.Join(logRoot, id),
		Cleanup:   cleanup,
		Logger:    logger,
	}
}
