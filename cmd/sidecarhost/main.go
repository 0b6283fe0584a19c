package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	reapFlags := &ReapFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createSweepCommand(globalFlags),
		createReapCommand(globalFlags, reapFlags),
		createPathsCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sidecarhost",
		Short: "Run a sidecar worker for the lifetime of the host",
		Long: `sidecarhost launches a sidecar worker, clears instances left over from
earlier runs, and kills the worker together with every process it forked
when the host goes away.

Examples:
  sidecarhost run --worker=flask-backend --port=5000
  sidecarhost run --config=sidecar.toml --admin-listen=127.0.0.1:7070
  sidecarhost sweep --worker=flask-backend
  sidecarhost reap --pid=4242
  sidecarhost paths`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.BoolVar(&flags.Dev, "dev", false, "development mode: do not sweep or launch, run the worker by hand")
	pf.StringVar(&flags.DataDir, "data-dir", "", "worker data directory (default: platform app-data dir)")
	pf.IntVar(&flags.Port, "port", 0, "port passed to the worker")
	pf.StringVar(&flags.Worker, "worker", "", "worker executable name")
	pf.StringVar(&flags.Executable, "executable", "", "explicit worker executable path")
	pf.StringVar(&flags.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.LogFile, "log-file", "", "also write host logs to this rotating file")
	return root
}

func createRunCommand(g *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the worker and supervise it until the host exits",
		Long: `Sweep stale worker instances, launch the worker, then wait. SIGHUP or
SIGINT count as the window being closed, SIGTERM as application exit; either
kills the worker's process tree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), cmd.OutOrStdout(), g, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.RunDuration, "run-duration", 0, "exit after this long (0 waits for a signal)")
	cmd.Flags().StringVar(&flags.AdminListen, "admin-listen", "", "serve the admin endpoint on this address")
	cmd.Flags().BoolVar(&flags.Descendants, "descendants", false, "reap the whole descendant tree, not only direct children")
	return cmd
}

func createSweepCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Kill stale worker instances and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sweepCommand(cmd.Context(), cmd.OutOrStdout(), g)
		},
	}
}

func createReapCommand(g *GlobalFlags, flags *ReapFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Kill a process together with its children",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reapCommand(cmd.OutOrStdout(), g, flags)
		},
	}
	cmd.Flags().IntVar(&flags.PID, "pid", 0, "root pid of the tree to kill")
	cmd.Flags().BoolVar(&flags.Descendants, "descendants", false, "reap the whole descendant tree, not only direct children")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

func createPathsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the resolved data directory and worker executable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return pathsCommand(cmd.OutOrStdout(), g)
		},
	}
}
