package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clustertest",
		Short: "clustertest: orchestrate validation runs against ephemeral clusters",
		Long: "clustertest brings up a cluster of virtual nodes, waits until every node\n" +
			"is reachable, deploys configuration, runs validation suites against the\n" +
			"live cluster and tears it down again. Without a subcommand it performs\n" +
			"the full end-to-end run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default workflow is the end-to-end run.
			return runE2E(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file")
	cmd.PersistentFlags().String("cluster", "", "cluster description file (defaults to config)")
	cmd.PersistentFlags().String("suite-dir", "", "test suite root directory (defaults to config)")
	cmd.PersistentFlags().String("target", "", "target node or role for test execution (default: local)")
	cmd.PersistentFlags().String("backend", "", "provisioning backend: static, virtcmd, restapi")
	cmd.PersistentFlags().String("log-level", "normal", "log level: quiet, normal, verbose, debug")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (same as --log-level verbose)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "errors only (same as --log-level quiet)")
	cmd.PersistentFlags().Bool("no-cleanup", false, "leave the cluster running on exit, even on failure")
	cmd.PersistentFlags().Bool("interactive", false, "ask before stopping the cluster")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(resolveLevel(c))
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newE2ECmd())
	cmd.AddCommand(newStartClusterCmd())
	cmd.AddCommand(newStopClusterCmd())
	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newRunTestsCmd())
	cmd.AddCommand(newListTestsCmd())
	cmd.AddCommand(newRunTestCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func resolveLevel(c *cobra.Command) zerolog.Level {
	if q, _ := c.Flags().GetBool("quiet"); q {
		return zerolog.ErrorLevel
	}
	if v, _ := c.Flags().GetBool("verbose"); v {
		return zerolog.DebugLevel
	}
	levelStr, _ := c.Flags().GetString("log-level")
	switch levelStr {
	case "quiet":
		return zerolog.ErrorLevel
	case "verbose":
		return zerolog.DebugLevel
	case "debug":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clustertest %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Main entry point
func main() {
	setupLogger()
	root := newRootCmd()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)
	err := root.Execute()
	if ctx.Err() != nil {
		// Cleanup already ran on the way out; report the distinct
		// interrupted status.
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(api.ExitInterrupted)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(api.ExitFailure)
	}
}
