package api

// Public enums shared by the orchestration components and external tooling.

// ClusterState is the lifecycle state of a cluster under test. Transitions
// are owned exclusively by the lifecycle manager.
type ClusterState string

const (
	StateNotStarted ClusterState = "not-started"
	StateStarting   ClusterState = "starting"
	StateRunning    ClusterState = "running"
	StateFailed     ClusterState = "failed"
	StateStopping   ClusterState = "stopping"
	StateStopped    ClusterState = "stopped"
)

// Classification is the outcome of a single test invocation.
type Classification string

const (
	ClassPass Classification = "PASS"
	ClassFail Classification = "FAIL"
	// ClassSkipped marks a check that declined to run (exit code 77,
	// automake convention).
	ClassSkipped Classification = "SKIPPED"
	// ClassNotFound marks a suite or check that could not be located.
	// Distinct from ClassFail: it signals a harness or configuration
	// problem, not a product defect.
	ClassNotFound Classification = "NOT_FOUND"
)

// ExitCodeSkip is the process exit code a check uses to report SKIPPED.
const ExitCodeSkip = 77

// Process exit codes of the clustertest binary.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)
