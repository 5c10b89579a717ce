package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/config"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/deploy"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/lifecycle"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/orchestrator"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/probe"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision/restapi"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision/static"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/provision/virtcmd"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runlog"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runner"
	gssh "github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/ssh"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/store"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// env holds the components resolved once per invocation from config and
// flags. Everything downstream reads the RunContext, never raw flags.
type env struct {
	cfg  config.Config
	spec cluster.Spec
	rc   config.RunContext
	orch *orchestrator.Orchestrator
	logs *runlog.RunLog
}

func (e *env) close() {
	if e.logs != nil {
		_ = e.logs.Close()
	}
	if e.orch != nil && e.orch.History != nil {
		_ = e.orch.History.Close()
	}
}

// resolveBackend builds the provisioning backend registry and picks the
// requested one.
func resolveBackend(cmd *cobra.Command, cfg config.Config) (provision.Backend, error) {
	reg := provision.NewRegistry()
	reg.Register(static.New())
	reg.Register(virtcmd.New(cfg.Backend.Virtcmd.Binary, cfg.Backend.Virtcmd.URI))
	reg.Register(restapi.New(cfg.Backend.RESTAPI.Endpoint, cfg.Backend.RESTAPI.Token))
	name, _ := cmd.Flags().GetString("backend")
	if name == "" {
		name = cfg.Backend.Default
	}
	return reg.Get(name)
}

func resolveCleanup(cmd *cobra.Command) config.CleanupPolicy {
	if noCleanup, _ := cmd.Flags().GetBool("no-cleanup"); noCleanup {
		return config.CleanupPreserve
	}
	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		return config.CleanupInteractive
	}
	return config.CleanupAuto
}

// resolveEnv wires the full component stack. withRunDir controls whether a
// per-run log directory is created; read-only commands leave no artifacts.
func resolveEnv(cmd *cobra.Command, withRunDir bool) (*env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	clusterPath, _ := cmd.Flags().GetString("cluster")
	if clusterPath == "" {
		clusterPath = cfg.ClusterFile
	}
	spec, err := cluster.LoadSpec(clusterPath)
	if err != nil {
		return nil, err
	}
	if suiteDir, _ := cmd.Flags().GetString("suite-dir"); suiteDir != "" {
		cfg.SuiteDir = suiteDir
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr}
	rc := config.NewRunContext(cfg.LogRoot, resolveCleanup(cmd), zerolog.New(console).With().Timestamp().Logger())

	e := &env{cfg: cfg, spec: spec, rc: rc}
	if withRunDir {
		logs, err := runlog.New(rc.LogDir)
		if err != nil {
			return nil, err
		}
		e.logs = logs
		e.rc.Logger = logs.Logger(console, zerolog.GlobalLevel())
	}

	backend, err := resolveBackend(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// The SSH executor is only usable when key material exists; commands
	// that stay local (list-tests, status) never touch it.
	exec, sshErr := gssh.NewExecutor(cfg.SSH.KeyPath, cfg.SSH.KnownHosts, cfg.Defaults.User, cfg.Defaults.SSHPort)
	var prober lifecycle.NodeProber
	var remote runner.Remote
	if sshErr == nil {
		policy := probe.DefaultPolicy()
		policy.MaxAttempts = cfg.Defaults.ProbeAttempts
		policy.Timeout = cfg.ProbeTimeout()
		prober = probe.New(exec, policy, e.rc.Logger)
		remote = exec
	} else {
		prober = unreachableProber{err: sshErr}
		remote = unreachableRemote{err: sshErr}
	}

	manager := lifecycle.New(backend, prober, rc.Cleanup, cfg.PowerTimeout(), cfg.Defaults.Concurrency, e.rc.Logger)
	manager.Prompt = promptStderr

	target, _ := cmd.Flags().GetString("target")
	tests := &runner.Runner{
		SuiteRoot:   cfg.SuiteDir,
		Remote:      remote,
		LogDir:      rc.LogDir,
		Timeout:     cfg.TestTimeout(),
		Concurrency: cfg.Defaults.Concurrency,
		RunID:       rc.RunID,
		Log:         e.rc.Logger,
	}

	var history *store.Store
	if withRunDir {
		if h, err := store.New(cfg.Store.Path); err == nil {
			history = h
		} else {
			e.rc.Logger.Warn().Err(err).Msg("run history store unavailable")
		}
	}

	e.orch = &orchestrator.Orchestrator{
		RC:        e.rc,
		Spec:      spec,
		Lifecycle: manager,
		Deployer: &deploy.Deployer{
			Binary:      cfg.Deploy.Binary,
			Timeout:     cfg.DeployTimeout(),
			DefaultUser: cfg.Defaults.User,
			DefaultPort: cfg.Defaults.SSHPort,
			LogDir:      rc.LogDir,
			Log:         e.rc.Logger,
		},
		Tests:    tests,
		Logs:     e.logs,
		History:  history,
		Playbook: cfg.Deploy.Playbook,
		Target:   target,
		Prompt:   promptStderr,
	}
	return e, nil
}

// unreachableProber surfaces a missing-SSH-credentials error at probe time
// instead of at startup, so local-only commands keep working.
type unreachableProber struct{ err error }

func (p unreachableProber) ProbeAll(_ context.Context, nodes []cluster.Node, _ string, _ int) []probe.Result {
	results := make([]probe.Result, len(nodes))
	for i, n := range nodes {
		results[i] = probe.Result{Node: n, Err: p.err}
	}
	return results
}

// unreachableRemote mirrors unreachableProber for test dispatch: every
// remote operation reports the credential error, so remote invocations
// classify FAIL with the cause in their logs instead of panicking.
type unreachableRemote struct{ err error }

func (r unreachableRemote) Run(_ context.Context, _ cluster.Node, _ string) (gssh.Result, error) {
	return gssh.Result{ExitCode: -1}, r.err
}

func (r unreachableRemote) PushDir(_ context.Context, _ cluster.Node, _, _ string) error {
	return r.err
}

func promptStderr(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [Y/n] ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "" || line == "y" || line == "yes"
}

func runE2E(cmd *cobra.Command) error {
	e, err := resolveEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()
	sum, err := e.orch.EndToEnd(cmd.Context())
	fmt.Print(sum.Render())
	return err
}

// Full end-to-end workflow
func newE2ECmd() *cobra.Command {
	return &cobra.Command{
		Use:     "e2e",
		Aliases: []string{"end-to-end"},
		Short:   "Start the cluster, deploy configuration, run all suites, stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runE2E(cmd)
		},
	}
}

// Bring the cluster up and leave it running
func newStartClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-cluster",
		Short: "Start the cluster and wait until every node is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			return e.orch.StartOnly(cmd.Context())
		},
	}
}

// Tear the cluster down
func newStopClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-cluster",
		Short: "Stop the cluster (no-op if already stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			return e.orch.StopOnly(cmd.Context())
		},
	}
}

// Push configuration to a running cluster
func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "deploy-config",
		Aliases: []string{"deploy-ansible"},
		Short:   "Deploy configuration to the running cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			return e.orch.DeployOnly(cmd.Context())
		},
	}
}

// Run every discoverable suite
func newRunTestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-tests",
		Short: "Run all test suites against the cluster, leaving its state as-is",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.orch.RunTestsOnly(cmd.Context())
			fmt.Print(sum.Render())
			return err
		},
	}
}

// List discoverable suites without touching the cluster
func newListTestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tests",
		Short: "List discoverable test suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()
			suites, err := e.orch.ListTests()
			if err != nil {
				return err
			}
			for _, s := range suites {
				fmt.Printf("%s\t%d checks\t%s\n", s.Name, len(s.Checks), s.Dir)
			}
			return nil
		},
	}
}

// Run one named check
func newRunTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-test <name>",
		Short: "Run a single check (name or suite/name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()
			inv, err := e.orch.RunSingleTest(cmd.Context(), args[0])
			fmt.Printf("%s\t%s\t(exit %d, log %s)\n", inv.Class, args[0], inv.ExitCode, inv.LogPath)
			return err
		},
	}
}

// Report observed cluster state and last run
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cluster state and the most recent run",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()
			state, err := e.orch.ClusterStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cluster %s: %s\n", e.spec.Name, state)
			if h, err := store.New(e.cfg.Store.Path); err == nil {
				defer h.Close()
				rec, err := h.LatestRun(cmd.Context(), e.spec.Name)
				if errors.Is(err, sql.ErrNoRows) {
					fmt.Println("no recorded runs")
					return nil
				}
				if err == nil {
					fmt.Printf("last run %s: %d run / %d passed / %d failed / %d skipped (logs: %s)\n",
						rec.ID, rec.Total, rec.Passed, rec.Failed, rec.Skipped, rec.LogDir)
					if invs, err := h.InvocationsForRun(cmd.Context(), rec.ID); err == nil {
						for _, inv := range invs {
							if inv.Class == api.ClassPass {
								continue
							}
							fmt.Printf("  %-10s %s/%s\n", inv.Class, inv.Suite, inv.Name)
						}
					}
				}
			}
			return nil
		},
	}
}
