package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
	gssh "github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/ssh"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// writeSuite creates a suite directory with a master entry point and one
// check script per entry in checks, each exiting with the mapped code.
func writeSuite(t *testing.T, root, name string, checks map[string]int) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures")
	}
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	master := "#!/bin/sh\nexit 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, MasterEntryPoint), []byte(master), 0755))
	for check, code := range checks {
		script := fmt.Sprintf("#!/bin/sh\necho \"running %s\"\nexit %d\n", check, code)
		require.NoError(t, os.WriteFile(filepath.Join(dir, check), []byte(script), 0755))
	}
}

func newTestRunner(t *testing.T, root string) *Runner {
	return &Runner{
		SuiteRoot:   root,
		LogDir:      t.TempDir(),
		Timeout:     30 * time.Second,
		Concurrency: 4,
		RunID:       "test-run",
		Log:         zerolog.Nop(),
	}
}

func TestDiscoverFindsAllSuites(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"storage", "scheduler", "network", "containers"} {
		writeSuite(t, root, name, map[string]int{"test-basic.sh": 0})
	}
	// A directory without a master entry point is not a suite.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "helpers"), 0755))

	r := newTestRunner(t, root)
	suites, err := r.Discover()
	require.NoError(t, err)
	require.Len(t, suites, 4)
	assert.Equal(t, "containers", suites[0].Name)
	assert.Equal(t, []string{"test-basic.sh"}, suites[0].Checks)
}

func TestRunAllAggregatesAcrossSuites(t *testing.T) {
	// Suite A passes, suite B has one failing check: the failure is
	// reported while suite A's results remain present and passed.
	root := t.TempDir()
	writeSuite(t, root, "suite-a", map[string]int{"test-one.sh": 0, "test-two.sh": 0})
	writeSuite(t, root, "suite-b", map[string]int{"test-ok.sh": 0, "test-bad.sh": 1})

	r := newTestRunner(t, root)
	sum, err := r.RunAll(context.Background(), cluster.Spec{Name: "c"}, "local")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "test-bad.sh", sum.Failures[0].Name)
	assert.Equal(t, api.ClassFail, sum.Failures[0].Class)
	assert.FileExists(t, sum.Failures[0].LogPath)
}

func TestRunSuiteSkipClassification(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "gpu", map[string]int{"test-driver.sh": api.ExitCodeSkip})
	r := newTestRunner(t, root)
	desc, err := r.Describe("gpu")
	require.NoError(t, err)
	sum, err := r.RunSuite(context.Background(), desc, cluster.Spec{Name: "c"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
}

func TestRunSuiteWithoutChecksRunsMaster(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "smoke", nil)
	r := newTestRunner(t, root)
	desc, err := r.Describe("smoke")
	require.NoError(t, err)
	sum, err := r.RunSuite(context.Background(), desc, cluster.Spec{Name: "c"}, "local")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Passed)
}

func TestDescribeMissingSuite(t *testing.T) {
	r := newTestRunner(t, t.TempDir())
	_, err := r.Describe("nope")
	require.Error(t, err)

	sum := r.NotFoundSuite("nope")
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, api.ClassNotFound, sum.Failures[0].Class)
}

func TestRunOneNotFoundNeverFail(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "storage", map[string]int{"test-mount.sh": 0})
	r := newTestRunner(t, root)
	inv, err := r.RunOne(context.Background(), cluster.Spec{Name: "c"}, "no-such-test", "")
	require.NoError(t, err)
	assert.Equal(t, api.ClassNotFound, inv.Class)
	assert.NotEqual(t, api.ClassFail, inv.Class)
}

func TestRunOneByBareAndQualifiedName(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "storage", map[string]int{"test-mount.sh": 0})
	r := newTestRunner(t, root)

	inv, err := r.RunOne(context.Background(), cluster.Spec{Name: "c"}, "test-mount", "")
	require.NoError(t, err)
	assert.Equal(t, api.ClassPass, inv.Class)

	inv, err = r.RunOne(context.Background(), cluster.Spec{Name: "c"}, "storage/test-mount.sh", "")
	require.NoError(t, err)
	assert.Equal(t, api.ClassPass, inv.Class)
	assert.Equal(t, "storage", inv.Suite)
}

func TestRunOneAmbiguousIsAnError(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "suite-a", map[string]int{"test-common.sh": 0})
	writeSuite(t, root, "suite-b", map[string]int{"test-common.sh": 0})
	r := newTestRunner(t, root)
	_, err := r.RunOne(context.Background(), cluster.Spec{Name: "c"}, "test-common", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestResolveTargets(t *testing.T) {
	spec := cluster.Spec{Name: "c", Nodes: []cluster.Node{
		{Name: "ctl-01", Role: cluster.RoleController, Addr: "10.0.0.1"},
		{Name: "cmp-01", Role: cluster.RoleCompute, Addr: "10.0.0.2"},
		{Name: "cmp-02", Role: cluster.RoleCompute, Addr: "10.0.0.3"},
	}}
	r := newTestRunner(t, t.TempDir())

	_, local, err := r.resolveTargets(spec, "")
	require.NoError(t, err)
	assert.True(t, local)

	nodes, local, err := r.resolveTargets(spec, "compute")
	require.NoError(t, err)
	assert.False(t, local)
	assert.Len(t, nodes, 2)

	nodes, _, err = r.resolveTargets(spec, "ctl-01")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	_, _, err = r.resolveTargets(spec, "nonexistent")
	require.Error(t, err)
}

// failingRemote reports the same error for every remote operation, like an
// executor built without usable SSH credentials.
type failingRemote struct{ err error }

func (f failingRemote) Run(_ context.Context, _ cluster.Node, _ string) (gssh.Result, error) {
	return gssh.Result{ExitCode: -1}, f.err
}

func (f failingRemote) PushDir(_ context.Context, _ cluster.Node, _, _ string) error {
	return f.err
}

func twoComputeSpec() cluster.Spec {
	return cluster.Spec{Name: "c", Nodes: []cluster.Node{
		{Name: "cmp-01", Role: cluster.RoleCompute, Addr: "10.0.0.2"},
		{Name: "cmp-02", Role: cluster.RoleCompute, Addr: "10.0.0.3"},
	}}
}

func TestRunSuiteRemoteTargetWithoutExecutor(t *testing.T) {
	// A remote target with no executor configured must surface an error,
	// never dereference the missing executor.
	root := t.TempDir()
	writeSuite(t, root, "storage", map[string]int{"test-mount.sh": 0})
	r := newTestRunner(t, root)
	r.Remote = nil

	desc, err := r.Describe("storage")
	require.NoError(t, err)
	_, err = r.RunSuite(context.Background(), desc, twoComputeSpec(), "compute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSH executor")

	_, err = r.RunOne(context.Background(), twoComputeSpec(), "test-mount", "cmp-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSH executor")
}

func TestRunSuiteRemoteFailureClassifiesFail(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, root, "storage", map[string]int{"test-mount.sh": 0, "test-quota.sh": 0})
	r := newTestRunner(t, root)
	r.Remote = failingRemote{err: errors.New("read private key: no such file")}

	desc, err := r.Describe("storage")
	require.NoError(t, err)
	sum, err := r.RunSuite(context.Background(), desc, twoComputeSpec(), "compute")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total, "2 checks on each of 2 nodes")
	assert.Equal(t, 4, sum.Failed)
	for _, f := range sum.Failures {
		assert.Equal(t, api.ClassFail, f.Class)
		assert.NotEmpty(t, f.Node)
	}
}

func TestSummaryInvariants(t *testing.T) {
	var sum Summary
	sum.Add(Invocation{Name: "a", Class: api.ClassPass})
	sum.Add(Invocation{Name: "b", Class: api.ClassSkipped})
	assert.Equal(t, 0, sum.Failed)

	sum.Add(Invocation{Name: "c", Class: api.ClassNotFound})
	assert.Equal(t, 1, sum.Failed, "NOT_FOUND counts as failed")
	assert.Equal(t, 3, sum.Total)
	assert.Len(t, sum.Invocations, 3, "every invocation is kept, not just failures")

	var merged Summary
	merged.Merge(sum)
	assert.Len(t, merged.Invocations, 3)
	assert.Len(t, merged.Failures, 1)
}
