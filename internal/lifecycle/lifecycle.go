// Package lifecycle owns the cluster state machine. It is the only
// component that mutates ClusterState and the only one with effects outside
// the test run itself (it creates and destroys compute resources through
// the provisioning backend).
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/config"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/probe"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// PowerPollInterval is how often the backend is polled while waiting for
// VMs to power on.
const PowerPollInterval = 10 * time.Second

// NodeProber gates the transition to Running on node reachability.
// *probe.Prober satisfies this.
type NodeProber interface {
	ProbeAll(ctx context.Context, nodes []cluster.Node, command string, concurrency int) []probe.Result
}

// Manager drives a cluster through its lifecycle.
type Manager struct {
	backend      provision.Backend
	prober       NodeProber
	cleanup      config.CleanupPolicy
	powerTimeout time.Duration
	concurrency  int
	log          zerolog.Logger

	// Prompt asks the operator a yes/no question before cleanup under the
	// interactive policy. Defaults to "yes" when nil.
	Prompt func(question string) bool

	mu       sync.Mutex
	state    api.ClusterState
	resolved cluster.Spec
	haveSpec bool
}

func New(backend provision.Backend, prober NodeProber, cleanup config.CleanupPolicy, powerTimeout time.Duration, concurrency int, log zerolog.Logger) *Manager {
	return &Manager{
		backend:      backend,
		prober:       prober,
		cleanup:      cleanup,
		powerTimeout: powerTimeout,
		concurrency:  concurrency,
		log:          log,
		state:        api.StateNotStarted,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() api.ClusterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s api.ClusterState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Inventory returns the spec with addresses resolved from the backend at
// start time, or the declared spec when Start has not run.
func (m *Manager) Inventory(spec cluster.Spec) cluster.Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveSpec {
		return m.resolved
	}
	return spec
}

// Start creates the cluster, waits for all VMs to power on, then gates on
// every node becoming reachable before reporting Running. On any failure it
// transitions to Failed and, unless the cleanup policy preserves resources,
// stops the cluster.
func (m *Manager) Start(ctx context.Context, spec cluster.Spec) (api.ClusterState, error) {
	switch st := m.State(); st {
	case api.StateNotStarted, api.StateStopped, api.StateFailed:
	case api.StateRunning:
		return st, nil
	default:
		return st, fmt.Errorf("cannot start cluster %s from state %s", spec.Name, st)
	}

	m.setState(api.StateStarting)
	m.log.Info().Str("cluster", spec.Name).Int("nodes", len(spec.Nodes)).Msg("starting cluster")

	if err := m.backend.Create(ctx, spec); err != nil {
		return m.fail(ctx, spec, fmt.Errorf("provision cluster %s: %w", spec.Name, err))
	}

	status, err := m.waitPowered(ctx, spec)
	if err != nil {
		return m.fail(ctx, spec, err)
	}

	resolved := cluster.WithAddrs(spec, status.Addrs())
	m.mu.Lock()
	m.resolved = resolved
	m.haveSpec = true
	m.mu.Unlock()

	results := m.prober.ProbeAll(ctx, resolved.Nodes, probe.DefaultCommand, m.concurrency)
	if !probe.AllSucceeded(results) {
		var down []string
		for _, r := range results {
			if !r.Succeeded {
				down = append(down, fmt.Sprintf("%s (%d attempts in %s)", r.Node.Name, r.Attempts, r.Elapsed.Round(time.Second)))
			}
		}
		return m.fail(ctx, spec, fmt.Errorf("cluster %s: nodes never became reachable: %s", spec.Name, strings.Join(down, ", ")))
	}

	m.setState(api.StateRunning)
	m.log.Info().Str("cluster", spec.Name).Msg("cluster running, all nodes reachable")
	return api.StateRunning, nil
}

// waitPowered polls backend status until every node reports powered on.
func (m *Manager) waitPowered(ctx context.Context, spec cluster.Spec) (provision.ClusterStatus, error) {
	deadline := time.Now().Add(m.powerTimeout)
	ticker := time.NewTicker(PowerPollInterval)
	defer ticker.Stop()
	for {
		status, err := m.backend.Status(ctx, spec.Name)
		if err == nil && status.AllPoweredOn() {
			return status, nil
		}
		if err != nil {
			m.log.Debug().Err(err).Str("cluster", spec.Name).Msg("status poll failed")
		}
		if time.Now().After(deadline) {
			return provision.ClusterStatus{}, fmt.Errorf("cluster %s: VMs not powered on within %s", spec.Name, m.powerTimeout)
		}
		select {
		case <-ctx.Done():
			return provision.ClusterStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fail transitions to Failed and triggers cleanup unless the policy
// preserves resources. The original error is returned either way.
func (m *Manager) fail(ctx context.Context, spec cluster.Spec, cause error) (api.ClusterState, error) {
	m.setState(api.StateFailed)
	m.log.Error().Err(cause).Str("cluster", spec.Name).Msg("cluster start failed")
	switch m.cleanup {
	case config.CleanupPreserve:
		m.log.Warn().Str("cluster", spec.Name).Msg("cleanup disabled, leaving cluster for inspection")
		return api.StateFailed, cause
	case config.CleanupInteractive:
		if m.Prompt != nil && !m.Prompt(fmt.Sprintf("start failed, stop cluster %s?", spec.Name)) {
			m.log.Warn().Str("cluster", spec.Name).Msg("operator chose to keep the failed cluster")
			return api.StateFailed, cause
		}
	}
	// Best-effort: cleanup must run even when the phase context was
	// cancelled, so detach from it.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	if _, err := m.Stop(stopCtx, spec); err != nil {
		m.log.Error().Err(err).Str("cluster", spec.Name).Msg("cleanup after failed start also failed")
	}
	return api.StateFailed, cause
}

// Stop destroys the cluster. Stopping an already-stopped cluster is a
// no-op success.
func (m *Manager) Stop(ctx context.Context, spec cluster.Spec) (api.ClusterState, error) {
	if st := m.State(); st == api.StateStopped || st == api.StateNotStarted {
		return api.StateStopped, nil
	}
	m.setState(api.StateStopping)
	m.log.Info().Str("cluster", spec.Name).Msg("stopping cluster")
	if err := m.backend.Destroy(ctx, spec.Name); err != nil {
		m.setState(api.StateFailed)
		return api.StateFailed, fmt.Errorf("destroy cluster %s: %w", spec.Name, err)
	}
	m.setState(api.StateStopped)
	return api.StateStopped, nil
}

// Status reports the observed cluster state from the backend without
// mutating the lifecycle state machine.
func (m *Manager) Status(ctx context.Context, spec cluster.Spec) (api.ClusterState, error) {
	status, err := m.backend.Status(ctx, spec.Name)
	if err != nil {
		return api.StateFailed, fmt.Errorf("query cluster %s status: %w", spec.Name, err)
	}
	if len(status.Nodes) == 0 {
		return api.StateStopped, nil
	}
	if status.AllPoweredOn() {
		return api.StateRunning, nil
	}
	on := 0
	for _, n := range status.Nodes {
		if n.Power == provision.PowerOn {
			on++
		}
	}
	if on == 0 {
		return api.StateStopped, nil
	}
	return api.StateStarting, nil
}
