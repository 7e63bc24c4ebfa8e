package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/orchestrator"
	"github.com/williamhogman/sparkmesh/internal/style"
)

var (
	configFiles []string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Bring up and validate a GPU cluster over SSH",
	Long: `orchestrator provisions a cluster of GPU nodes phase by phase
(ssh, tailscale, multi_node, nccl, validate), records a status report for
every run and answers status queries from the last recorded run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "cluster config file (repeatable, later files win)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the machine-readable report")
}

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return orchestrator.ExitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			printError(exit.err)
		}
		return exit.code
	}
	printError(err)
	if cluster.IsConfigError(err) {
		return orchestrator.ExitConfigError
	}
	return orchestrator.ExitInternal
}

func printError(err error) {
	var cerr *cluster.ConfigError
	if errors.As(err, &cerr) {
		fmt.Fprintln(os.Stderr, style.ErrorBox.Render(cerr.Error()))
		return
	}
	fmt.Fprintln(os.Stderr, style.ErrorBox.Render("error: "+err.Error()))
}

// loadCluster reads the -c files with the process environment as overrides
func loadCluster() (*cluster.ClusterConfig, error) {
	env, err := cluster.LoadEnvOverrides()
	if err != nil {
		return nil, err
	}
	return cluster.Load(env, configFiles...)
}
