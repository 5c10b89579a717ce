// Package orchestrator sequences the workflow phases: start, deploy, test,
// stop. It drives exactly one linear phase sequence per invocation and owns
// the cleanup guarantee: every Starting/Running cluster is stopped on every
// exit path unless the cleanup policy says otherwise.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/config"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/deploy"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runlog"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runner"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/store"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// Lifecycle is the cluster state machine. *lifecycle.Manager satisfies this.
type Lifecycle interface {
	Start(ctx context.Context, spec cluster.Spec) (api.ClusterState, error)
	Stop(ctx context.Context, spec cluster.Spec) (api.ClusterState, error)
	Status(ctx context.Context, spec cluster.Spec) (api.ClusterState, error)
	State() api.ClusterState
	Inventory(spec cluster.Spec) cluster.Spec
}

// ConfigDeployer pushes configuration to the cluster. *deploy.Deployer
// satisfies this.
type ConfigDeployer interface {
	Deploy(ctx context.Context, spec cluster.Spec, playbook string) (deploy.Result, error)
}

// TestRunner discovers and executes suites. *runner.Runner satisfies this.
type TestRunner interface {
	Discover() ([]runner.SuiteDescriptor, error)
	RunAll(ctx context.Context, spec cluster.Spec, pattern string) (runner.Summary, error)
	RunOne(ctx context.Context, spec cluster.Spec, name, pattern string) (runner.Invocation, error)
}

// Orchestrator composes the components into workflows.
type Orchestrator struct {
	RC        config.RunContext
	Spec      cluster.Spec
	Lifecycle Lifecycle
	Deployer  ConfigDeployer
	Tests     TestRunner
	Logs      *runlog.RunLog
	History   *store.Store // optional; nil disables run history
	Playbook  string
	Target    string
	// Prompt asks the operator a yes/no question under the interactive
	// cleanup policy. Defaults to "yes" when nil.
	Prompt func(question string) bool
}

// EndToEnd runs start, deploy, run-tests, stop in order. Any phase failure
// skips the remaining work phases but still reaches the stop phase, and the
// partial summary produced so far is reported either way.
func (o *Orchestrator) EndToEnd(ctx context.Context) (runner.Summary, error) {
	var sum runner.Summary
	var firstErr error

	if _, err := o.Lifecycle.Start(ctx, o.Spec); err != nil {
		firstErr = fmt.Errorf("start phase: %w", err)
	}
	defer o.finishRun(&sum, &firstErr)
	defer o.cleanup()

	if firstErr == nil {
		inv := o.Lifecycle.Inventory(o.Spec)
		res, err := o.Deployer.Deploy(ctx, inv, o.Playbook)
		if err != nil {
			firstErr = fmt.Errorf("deploy phase: %w", err)
		} else if !res.Succeeded {
			firstErr = fmt.Errorf("deploy phase: configuration tool exited %d (log: %s)", res.ExitCode, res.LogPath)
		}
	}

	if firstErr == nil {
		s, err := o.Tests.RunAll(ctx, o.Lifecycle.Inventory(o.Spec), o.Target)
		sum = s
		if err != nil {
			firstErr = fmt.Errorf("test phase: %w", err)
		} else if sum.Failed > 0 {
			firstErr = fmt.Errorf("%d of %d tests failed", sum.Failed, sum.Total)
		}
	}

	return sum, firstErr
}

// cleanup stops the cluster per the run's cleanup policy. It is registered
// once the start phase has begun and runs on every exit path, detached from
// the phase context so an interrupt still tears the cluster down.
func (o *Orchestrator) cleanup() {
	// Failed starts are cleaned up by the lifecycle manager itself,
	// including the interactive prompt; acting on them here would stop or
	// ask twice.
	switch st := o.Lifecycle.State(); st {
	case api.StateStarting, api.StateRunning:
	default:
		return
	}
	switch o.RC.Cleanup {
	case config.CleanupPreserve:
		o.RC.Logger.Warn().Str("cluster", o.Spec.Name).Msg("cleanup disabled, cluster left running")
		return
	case config.CleanupInteractive:
		if o.Prompt != nil && !o.Prompt(fmt.Sprintf("stop cluster %s?", o.Spec.Name)) {
			o.RC.Logger.Warn().Str("cluster", o.Spec.Name).Msg("operator chose to keep the cluster")
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := o.Lifecycle.Stop(ctx, o.Spec); err != nil {
		o.RC.Logger.Error().Err(err).Str("cluster", o.Spec.Name).Msg("cleanup stop failed")
	}
}

// finishRun writes the summary artifact and persists run history. It always
// completes before the process exits, even on failure paths.
func (o *Orchestrator) finishRun(sum *runner.Summary, firstErr *error) {
	if o.Logs != nil {
		if path, err := o.Logs.WriteSummary(*sum); err == nil {
			o.RC.Logger.Info().Str("summary", path).Msg("run summary written")
		} else {
			o.RC.Logger.Error().Err(err).Msg("failed to write run summary")
		}
	}
	if o.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	state := o.Lifecycle.State()
	rec := store.RunRecord{
		ID:        o.RC.RunID,
		Cluster:   o.Spec.Name,
		StartedAt: o.RC.StartedAt,
		State:     state,
		Total:     sum.Total,
		Passed:    sum.Passed,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		LogDir:    o.RC.LogDir,
	}
	if err := o.History.RecordRun(ctx, rec); err != nil {
		o.RC.Logger.Error().Err(err).Msg("failed to record run")
		return
	}
	if err := o.History.RecordInvocations(ctx, o.RC.RunID, sum.Invocations); err != nil {
		o.RC.Logger.Error().Err(err).Msg("failed to record invocations")
	}
	_ = firstErr
}

// StartOnly brings the cluster up and leaves it running for inspection.
func (o *Orchestrator) StartOnly(ctx context.Context) error {
	state, err := o.Lifecycle.Start(ctx, o.Spec)
	if err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	o.RC.Logger.Info().Str("cluster", o.Spec.Name).Str("state", string(state)).Msg("cluster started")
	return nil
}

// StopOnly tears the cluster down.
func (o *Orchestrator) StopOnly(ctx context.Context) error {
	state, err := o.Lifecycle.Stop(ctx, o.Spec)
	if err != nil {
		return fmt.Errorf("stop cluster: %w", err)
	}
	o.RC.Logger.Info().Str("cluster", o.Spec.Name).Str("state", string(state)).Msg("cluster stopped")
	return nil
}

// DeployOnly pushes configuration to an already-running cluster.
func (o *Orchestrator) DeployOnly(ctx context.Context) error {
	res, err := o.Deployer.Deploy(ctx, o.Lifecycle.Inventory(o.Spec), o.Playbook)
	if err != nil {
		return fmt.Errorf("deploy configuration: %w", err)
	}
	if !res.Succeeded {
		return fmt.Errorf("configuration tool exited %d (log: %s)", res.ExitCode, res.LogPath)
	}
	return nil
}

// RunTestsOnly executes every discoverable suite against the cluster
// without touching its lifecycle.
func (o *Orchestrator) RunTestsOnly(ctx context.Context) (runner.Summary, error) {
	sum, err := o.Tests.RunAll(ctx, o.Lifecycle.Inventory(o.Spec), o.Target)
	if o.Logs != nil {
		if _, werr := o.Logs.WriteSummary(sum); werr != nil {
			o.RC.Logger.Error().Err(werr).Msg("failed to write run summary")
		}
	}
	if err != nil {
		return sum, err
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d tests failed", sum.Failed, sum.Total)
	}
	return sum, nil
}

// RunSingleTest executes one named check. A missing name reports NOT_FOUND.
func (o *Orchestrator) RunSingleTest(ctx context.Context, name string) (runner.Invocation, error) {
	inv, err := o.Tests.RunOne(ctx, o.Lifecycle.Inventory(o.Spec), name, o.Target)
	if err != nil {
		return inv, err
	}
	switch inv.Class {
	case api.ClassPass, api.ClassSkipped:
		return inv, nil
	case api.ClassNotFound:
		return inv, fmt.Errorf("test %q not found", name)
	default:
		return inv, fmt.Errorf("test %q failed with exit code %d (log: %s)", name, inv.ExitCode, inv.LogPath)
	}
}

// ListTests prints the discoverable suites. Read-only: cluster state is
// never touched.
func (o *Orchestrator) ListTests() ([]runner.SuiteDescriptor, error) {
	return o.Tests.Discover()
}

// ClusterStatus reports the observed cluster state. Read-only.
func (o *Orchestrator) ClusterStatus(ctx context.Context) (api.ClusterState, error) {
	return o.Lifecycle.Status(ctx, o.Spec)
}
