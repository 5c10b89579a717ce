// Package deploy invokes the external configuration-management tool against
// the resolved inventory. Deployment failures are configuration bugs, not
// transient conditions: there is no automatic retry and the exit status is
// surfaced verbatim.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/cluster"
)

// Result is the outcome of one deployment invocation. Immutable.
type Result struct {
	Succeeded bool
	ExitCode  int
	LogPath   string
	Elapsed   time.Duration
}

// Deployer runs the configuration tool. The caller guarantees the cluster
// is Running before Deploy is invoked; that precondition is not re-checked
// here.
type Deployer struct {
	Binary      string
	Timeout     time.Duration
	DefaultUser string
	DefaultPort int
	LogDir      string
	Log         zerolog.Logger
}

// Deploy generates an inventory for the spec, invokes the tool once with
// the given playbook, and waits synchronously for completion. Output is
// captured to a log file in LogDir; only the exit status is interpreted.
func (d *Deployer) Deploy(ctx context.Context, spec cluster.Spec, playbook string) (Result, error) {
	start := time.Now()
	if err := os.MkdirAll(d.LogDir, 0755); err != nil {
		return Result{}, fmt.Errorf("create log dir: %w", err)
	}
	invPath := filepath.Join(d.LogDir, "inventory.ini")
	if err := WriteInventory(spec, d.DefaultUser, d.DefaultPort, invPath); err != nil {
		return Result{}, err
	}
	logPath := filepath.Join(d.LogDir, "deploy.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, fmt.Errorf("create deploy log: %w", err)
	}
	defer logFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	d.Log.Info().Str("cluster", spec.Name).Str("playbook", playbook).
		Str("inventory", invPath).Msg("deploying configuration")
	cmd := exec.CommandContext(runCtx, d.Binary, "-i", invPath, playbook)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	err = cmd.Run()
	res := Result{LogPath: logPath, Elapsed: time.Since(start)}
	if err == nil {
		res.Succeeded = true
		d.Log.Info().Str("cluster", spec.Name).Dur("elapsed", res.Elapsed).Msg("deployment succeeded")
		return res, nil
	}
	if runCtx.Err() != nil {
		return res, fmt.Errorf("deployment timed out after %s (log: %s)", d.Timeout, logPath)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		d.Log.Error().Int("exit_code", res.ExitCode).Str("log", logPath).
			Msg("deployment failed")
		return res, nil
	}
	return res, fmt.Errorf("invoke %s: %w", d.Binary, err)
}
