package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/orchestrator"
	"github.com/williamhogman/sparkmesh/internal/persistence"
	"github.com/williamhogman/sparkmesh/internal/types"
)

var (
	outputFile        string
	policyName        string
	validateOnFailure bool
	metricsFile       string
	historyLimit      int
)

func init() {
	rootCmd.AddCommand(deployCmd, statusCmd, infoCmd, inventoryCmd)
	addRunFlags(deployCmd)

	for _, phase := range types.AllPhases {
		cmd := phaseCmd(phase)
		addRunFlags(cmd)
		rootCmd.AddCommand(cmd)
	}

	infoCmd.Flags().IntVar(&historyLimit, "history", 5, "number of past runs to list")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the JSON report to this file")
	cmd.Flags().StringVar(&policyName, "policy", string(orchestrator.PolicyIsolate), "failure policy: isolate or halt")
	cmd.Flags().BoolVar(&validateOnFailure, "validate-on-failure", true, "run validate after a failed phase to diagnose it")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run every enabled phase across the cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPhases(cmd, nil)
	},
}

func phaseCmd(phase types.Phase) *cobra.Command {
	return &cobra.Command{
		Use:   phase.CLIName(),
		Short: fmt.Sprintf("Run only the %s phase", phase),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(cmd, []types.Phase{phase})
		},
	}
}

func runPhases(cmd *cobra.Command, only []types.Phase) error {
	cl, err := loadCluster()
	if err != nil {
		return err
	}
	policy, err := orchestrator.ParsePolicy(policyName)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("validate-on-failure") {
		cl.ValidateOnFailure = cluster.Bool(validateOnFailure)
	}

	var (
		orch     *orchestrator.Orchestrator
		store    persistence.ReportStore
		registry *prometheus.Registry
		logger   *zap.Logger
	)
	app := newApp(cl, Execution, fx.Populate(&orch, &store, &registry, &logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, app, func() error {
		saveCtx := context.WithoutCancel(ctx)
		observers := []orchestrator.Observer{
			func(r *types.ClusterStatusReport) {
				if err := store.Save(saveCtx, r); err != nil {
					logger.Warn("failed to save report", r.RunID.ZapField(), zap.Error(err))
				}
			},
		}
		if !jsonOutput {
			observers = append(observers, progressPrinter(os.Stdout))
		}

		report, err := orch.Run(ctx, cl, orchestrator.Options{
			Policy:    policy,
			Only:      only,
			Observers: observers,
		})
		if err != nil {
			return err
		}

		if err := emitReport(report); err != nil {
			return err
		}
		if metricsFile != "" {
			if err := metrics.WriteTextfile(metricsFile, registry); err != nil {
				return err
			}
		}

		if code := orchestrator.ExitCode(report); code != orchestrator.ExitOK {
			return &exitError{code: code}
		}
		return nil
	})
}

// emitReport prints the report and writes it to --output
func emitReport(report *types.ClusterStatusReport) error {
	data, err := report.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if jsonOutput {
		fmt.Println(string(data))
		return nil
	}
	renderReport(os.Stdout, report)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := loadCluster()
		if err != nil {
			return err
		}

		var store persistence.ReportStore
		app := newApp(cl, ReadOnly, fx.Populate(&store))
		return withApp(cmd.Context(), app, func() error {
			report, err := store.Latest(cmd.Context(), cl.ClusterName)
			if err != nil {
				return noRunsError(cl, err)
			}
			if jsonOutput {
				data, err := report.MarshalIndent()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			renderReport(os.Stdout, report)
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the cluster config and its recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := loadCluster()
		if err != nil {
			return err
		}

		var store persistence.ReportStore
		app := newApp(cl, ReadOnly, fx.Populate(&store))
		return withApp(cmd.Context(), app, func() error {
			info := clusterInfo{
				Cluster: cl.ClusterName,
				Nodes:   cl.Nodes,
				Phases:  orchestrator.NewPlan(cl).Enabled(),
			}
			history, err := store.History(cmd.Context(), cl.ClusterName, historyLimit)
			if err != nil {
				return err
			}
			info.History = history
			if latest, err := store.Latest(cmd.Context(), cl.ClusterName); err == nil {
				info.LastState = latest.State
				info.LastRunAt = latest.StartedAt
			}

			if jsonOutput {
				return printJSON(os.Stdout, info)
			}
			renderInfo(os.Stdout, info)
			return nil
		})
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Print an Ansible inventory for the cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := loadCluster()
		if err != nil {
			return err
		}
		fmt.Print(cluster.Inventory(cl))
		return nil
	},
}

func noRunsError(cl *cluster.ClusterConfig, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("no recorded runs for cluster %s, run deploy first", cl.ClusterName)
	}
	return err
}
