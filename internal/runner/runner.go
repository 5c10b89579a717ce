// Package runner discovers test suites under the configured suite root and
// executes them locally or on cluster nodes, capturing per-check output and
// aggregating classifications.
//
// A suite is an immediate subdirectory of the root carrying a master entry
// point (run-tests.sh) plus individually invocable checks named test-* or
// test_*.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/pool"
	gssh "github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/ssh"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// MasterEntryPoint is the per-suite runner script.
const MasterEntryPoint = "run-tests.sh"

// SuiteDescriptor describes one discoverable suite.
type SuiteDescriptor struct {
	Name   string
	Dir    string
	Master string
	Checks []string
}

// Remote dispatches work to cluster nodes. *ssh.Executor satisfies this.
type Remote interface {
	Run(ctx context.Context, node cluster.Node, command string) (gssh.Result, error)
	PushDir(ctx context.Context, node cluster.Node, localDir, remoteDir string) error
}

// Runner executes suites against the current inventory.
type Runner struct {
	SuiteRoot   string
	Remote      Remote
	LogDir      string
	Timeout     time.Duration
	Concurrency int
	RunID       string
	Log         zerolog.Logger
}

// Discover scans the suite root and returns a descriptor per subdirectory
// that carries a master entry point. Read-only.
func (r *Runner) Discover() ([]SuiteDescriptor, error) {
	entries, err := os.ReadDir(r.SuiteRoot)
	if err != nil {
		return nil, fmt.Errorf("scan suite root %s: %w", r.SuiteRoot, err)
	}
	var suites []SuiteDescriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		desc, err := r.Describe(e.Name())
		if err != nil {
			continue
		}
		suites = append(suites, desc)
	}
	sort.Slice(suites, func(i, j int) bool { return suites[i].Name < suites[j].Name })
	return suites, nil
}

// Describe builds the descriptor for a named suite. The error reports a
// missing directory or master entry point; callers map it to NOT_FOUND.
func (r *Runner) Describe(name string) (SuiteDescriptor, error) {
	dir := filepath.Join(r.SuiteRoot, name)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return SuiteDescriptor{}, fmt.Errorf("suite %s: directory not found", name)
	}
	master := filepath.Join(dir, MasterEntryPoint)
	if _, err := os.Stat(master); err != nil {
		return SuiteDescriptor{}, fmt.Errorf("suite %s: missing %s", name, MasterEntryPoint)
	}
	desc := SuiteDescriptor{Name: name, Dir: dir, Master: master}
	files, err := os.ReadDir(dir)
	if err != nil {
		return SuiteDescriptor{}, fmt.Errorf("suite %s: %w", name, err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if isCheck(f.Name()) {
			desc.Checks = append(desc.Checks, f.Name())
		}
	}
	sort.Strings(desc.Checks)
	return desc, nil
}

func isCheck(name string) bool {
	return strings.HasPrefix(name, "test-") || strings.HasPrefix(name, "test_")
}

// resolveTargets maps a target pattern to concrete nodes. Empty or "local"
// means execution on the driving machine.
func (r *Runner) resolveTargets(spec cluster.Spec, pattern string) ([]cluster.Node, bool, error) {
	if pattern == "" || pattern == "local" {
		return nil, true, nil
	}
	if node, ok := cluster.FindNode(spec, pattern); ok {
		return []cluster.Node{node}, false, nil
	}
	nodes := cluster.SelectNodes(spec, cluster.Role(pattern))
	if len(nodes) == 0 {
		return nil, false, fmt.Errorf("no node or role matches target %q in cluster %s", pattern, spec.Name)
	}
	return nodes, false, nil
}

// RunAll discovers every suite and runs each in turn. Suites execute
// sequentially; a failing suite never stops the remaining ones.
func (r *Runner) RunAll(ctx context.Context, spec cluster.Spec, pattern string) (Summary, error) {
	suites, err := r.Discover()
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	for _, desc := range suites {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		s, err := r.RunSuite(ctx, desc, spec, pattern)
		sum.Merge(s)
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// RunSuite executes every check of a suite against the resolved targets.
// With multiple matching nodes the suite runs on each in parallel through
// the worker pool; checks on one node run in declaration order. A suite
// with no individual checks runs its master entry point as the single
// invocation.
func (r *Runner) RunSuite(ctx context.Context, desc SuiteDescriptor, spec cluster.Spec, pattern string) (Summary, error) {
	var sum Summary
	targets, local, err := r.resolveTargets(spec, pattern)
	if err != nil {
		return sum, err
	}
	scripts := desc.Checks
	if len(scripts) == 0 {
		scripts = []string{MasterEntryPoint}
	}
	if local {
		for _, script := range scripts {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Add(r.runLocal(ctx, desc, script))
		}
		return sum, nil
	}
	if r.Remote == nil {
		return sum, fmt.Errorf("target %q needs remote execution but no SSH executor is configured", pattern)
	}
	perNode := make([]Summary, len(targets))
	pool.Run(ctx, len(targets), r.Concurrency, func(ctx context.Context, i int) error {
		node := targets[i]
		remoteDir := r.remoteSuiteDir(desc.Name)
		if err := r.Remote.PushDir(ctx, node, desc.Dir, remoteDir); err != nil {
			r.Log.Error().Err(err).Str("suite", desc.Name).Str("node", node.Name).
				Msg("failed to push suite to node")
			for _, script := range scripts {
				perNode[i].Add(Invocation{
					Name: script, Suite: desc.Name, Node: node.Name,
					StartedAt: time.Now(), ExitCode: -1, Class: api.ClassFail,
				})
			}
			return nil
		}
		for _, script := range scripts {
			if ctx.Err() != nil {
				return nil
			}
			perNode[i].Add(r.runRemote(ctx, desc, script, node, remoteDir))
		}
		return nil
	})
	for _, s := range perNode {
		sum.Merge(s)
	}
	return sum, nil
}

// NotFoundSuite builds the summary for a suite that could not be located.
func (r *Runner) NotFoundSuite(name string) Summary {
	var sum Summary
	sum.Add(Invocation{
		Name:      name,
		Suite:     name,
		StartedAt: time.Now(),
		ExitCode:  -1,
		Class:     api.ClassNotFound,
	})
	return sum
}

// RunOne locates a single check by name and executes it. Names are either
// "suite/check" or a bare check name searched across all suites; an
// ambiguous bare name is an error rather than a silent pick, and a missing
// name classifies NOT_FOUND, never FAIL.
func (r *Runner) RunOne(ctx context.Context, spec cluster.Spec, name, pattern string) (Invocation, error) {
	notFound := Invocation{Name: name, StartedAt: time.Now(), ExitCode: -1, Class: api.ClassNotFound}

	var desc SuiteDescriptor
	var script string
	if suite, check, ok := strings.Cut(name, "/"); ok {
		d, err := r.Describe(suite)
		if err != nil {
			return notFound, nil
		}
		found := ""
		for _, c := range d.Checks {
			if c == check || trimExt(c) == check {
				found = c
				break
			}
		}
		if found == "" {
			return notFound, nil
		}
		desc, script = d, found
	} else {
		suites, err := r.Discover()
		if err != nil {
			return notFound, err
		}
		type match struct {
			desc   SuiteDescriptor
			script string
		}
		var matches []match
		for _, d := range suites {
			for _, c := range d.Checks {
				if c == name || trimExt(c) == name {
					matches = append(matches, match{d, c})
				}
			}
		}
		switch len(matches) {
		case 0:
			return notFound, nil
		case 1:
			desc, script = matches[0].desc, matches[0].script
		default:
			var names []string
			for _, m := range matches {
				names = append(names, m.desc.Name+"/"+m.script)
			}
			return notFound, fmt.Errorf("test name %q is ambiguous: matches %s", name, strings.Join(names, ", "))
		}
	}

	targets, local, err := r.resolveTargets(spec, pattern)
	if err != nil {
		return notFound, err
	}
	if local {
		return r.runLocal(ctx, desc, script), nil
	}
	if r.Remote == nil {
		return notFound, fmt.Errorf("target %q needs remote execution but no SSH executor is configured", pattern)
	}
	return r.runRemote(ctx, desc, script, targets[0], ""), nil
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (r *Runner) remoteSuiteDir(suite string) string {
	return path.Join("/tmp", "clustertest-"+r.RunID, suite)
}

// logPath returns the deterministic per-invocation log file.
func (r *Runner) logPath(suite, script, node string) string {
	name := suite + "--" + trimExt(script)
	if node != "" {
		name += "--" + node
	}
	return filepath.Join(r.LogDir, "tests", name+".log")
}

func (r *Runner) runLocal(ctx context.Context, desc SuiteDescriptor, script string) Invocation {
	inv := Invocation{Name: script, Suite: desc.Name, StartedAt: time.Now()}
	inv.LogPath = r.logPath(desc.Name, script, "")
	if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0755); err != nil {
		inv.ExitCode, inv.Class = -1, api.ClassFail
		return inv
	}
	logFile, err := os.Create(inv.LogPath)
	if err != nil {
		inv.ExitCode, inv.Class = -1, api.ClassFail
		return inv
	}
	defer logFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "./"+script)
	cmd.Dir = desc.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	r.Log.Info().Str("suite", desc.Name).Str("test", script).Msg("running test locally")
	err = cmd.Run()
	inv.ExitCode = exitCodeOf(err)
	inv.Class = classify(inv.ExitCode)
	r.logOutcome(inv)
	return inv
}

func (r *Runner) runRemote(ctx context.Context, desc SuiteDescriptor, script string, node cluster.Node, remoteDir string) Invocation {
	inv := Invocation{Name: script, Suite: desc.Name, Node: node.Name, StartedAt: time.Now()}
	inv.LogPath = r.logPath(desc.Name, script, node.Name)
	if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0755); err != nil {
		inv.ExitCode, inv.Class = -1, api.ClassFail
		return inv
	}
	if remoteDir == "" {
		remoteDir = r.remoteSuiteDir(desc.Name)
		if err := r.Remote.PushDir(ctx, node, desc.Dir, remoteDir); err != nil {
			r.Log.Error().Err(err).Str("suite", desc.Name).Str("node", node.Name).
				Msg("failed to push suite to node")
			inv.ExitCode, inv.Class = -1, api.ClassFail
			return inv
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	r.Log.Info().Str("suite", desc.Name).Str("test", script).Str("node", node.Name).
		Msg("running test on node")
	res, err := r.Remote.Run(runCtx, node, fmt.Sprintf("cd %s && ./%s", remoteDir, script))
	if err != nil {
		res.Stderr += "\n" + err.Error()
		res.ExitCode = -1
	}
	_ = os.WriteFile(inv.LogPath, []byte(res.Stdout+res.Stderr), 0644)
	inv.ExitCode = res.ExitCode
	inv.Class = classify(inv.ExitCode)
	r.logOutcome(inv)
	return inv
}

func (r *Runner) logOutcome(inv Invocation) {
	ev := r.Log.Info()
	if inv.Class == api.ClassFail || inv.Class == api.ClassNotFound {
		ev = r.Log.Error()
	}
	ev.Str("suite", inv.Suite).Str("test", inv.Name).Str("node", inv.Node).
		Int("exit_code", inv.ExitCode).Str("class", string(inv.Class)).
		Str("log", inv.LogPath).Msg("test finished")
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
