package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/williamhogman/sparkmesh/internal/config"
	"github.com/williamhogman/sparkmesh/internal/health"
	"github.com/williamhogman/sparkmesh/internal/logging"
	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/style"
	"github.com/williamhogman/sparkmesh/internal/types"
)

const (
	exitHealthy   = 0
	exitUnhealthy = 1
	exitUsage     = 2
)

var (
	selfCheck        bool
	jsonOutput       bool
	servicePort      int
	serviceEndpoint  string
	checkGPU         bool
	checkProcesses   []string
	requireGPU       bool
	requireProcesses []string
	watchInterfaces  []string
	serveAddr        string
)

// errUnhealthy makes the process exit non-zero after output was printed
var errUnhealthy = errors.New("unhealthy")

// Checks wires the local health checks
var Checks = fx.Options(
	config.Module,
	logging.Module,
	health.Module,
)

var rootCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check the health of this node",
	Long: `healthcheck reports the health of the local node. It exits 0 when the
node is healthy or degraded and 1 when it is unhealthy.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChecks,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /health and /metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			Checks,
			metrics.Module,
			health.ServerModule,
			fx.Decorate(overrides),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&selfCheck, "self-check", false, "run the full self-check")
	flags.BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	flags.IntVar(&servicePort, "port", 0, "check a local service on this port")
	flags.StringVar(&serviceEndpoint, "endpoint", "", "HTTP path to request on --port (TCP connect when empty)")
	flags.BoolVar(&checkGPU, "check-gpu", false, "report GPU details")
	flags.StringSliceVar(&checkProcesses, "check-process", nil, "report whether these processes are running")

	rootCmd.PersistentFlags().BoolVar(&requireGPU, "require-gpu", false, "treat a missing GPU as unhealthy")
	rootCmd.PersistentFlags().StringSliceVar(&requireProcesses, "require-process", nil, "processes that must be running")
	rootCmd.PersistentFlags().StringSliceVar(&watchInterfaces, "watch-interface", nil, "warn when these network interfaces are down")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from SPARKMESH_HEALTH_ADDR)")

	rootCmd.AddCommand(serveCmd)
}

// overrides applies command-line flags on top of environment settings
func overrides(cfg *config.Config) *config.Config {
	out := *cfg
	if requireGPU {
		out.Health.RequireGPU = true
	}
	if len(requireProcesses) > 0 {
		out.Health.Processes = requireProcesses
	}
	if len(watchInterfaces) > 0 {
		out.Health.Interfaces = watchInterfaces
	}
	if serveAddr != "" {
		out.Health.Addr = serveAddr
	}
	return &out
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		os.Exit(exitHealthy)
	case errors.Is(err, errUnhealthy):
		os.Exit(exitUnhealthy)
	default:
		fmt.Fprintln(os.Stderr, style.ErrorBox.Render("error: "+err.Error()))
		os.Exit(exitUsage)
	}
}

func runChecks(cmd *cobra.Command, args []string) error {
	if !selfCheck && servicePort == 0 && !checkGPU && len(checkProcesses) == 0 {
		return errors.New("choose one of --self-check, --port, --check-gpu or --check-process")
	}

	var (
		aggregator *health.Aggregator
		checker    *health.ServiceChecker
	)
	app := fx.New(
		fx.NopLogger,
		Checks,
		fx.Decorate(overrides),
		fx.Populate(&aggregator, &checker),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := os.Stdout
	healthy := true

	if selfCheck {
		report := aggregator.SelfCheck(ctx)
		if err := printSelfCheck(out, report); err != nil {
			return err
		}
		healthy = healthy && report.Status.Serving()
	}
	if servicePort != 0 {
		ok := checkService(ctx, checker)
		printLine(out, ok, fmt.Sprintf("service :%d%s", servicePort, serviceEndpoint))
		healthy = healthy && ok
	}
	if checkGPU {
		info, err := aggregator.CheckGPU()
		if err != nil {
			return fmt.Errorf("gpu query failed: %w", err)
		}
		if err := printGPU(out, info); err != nil {
			return err
		}
		healthy = healthy && info != nil && info.Available
	}
	if len(checkProcesses) > 0 {
		found := aggregator.CheckProcesses(checkProcesses)
		if err := printProcesses(out, found); err != nil {
			return err
		}
		for _, ok := range found {
			healthy = healthy && ok
		}
	}

	if !healthy {
		return errUnhealthy
	}
	return nil
}

func checkService(ctx context.Context, checker *health.ServiceChecker) bool {
	if serviceEndpoint == "" {
		return checker.CheckPort(ctx, servicePort)
	}
	return checker.CheckService(ctx, servicePort, serviceEndpoint)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLine(w io.Writer, ok bool, label string) {
	if jsonOutput {
		_ = writeJSON(w, map[string]any{"check": label, "ok": ok})
		return
	}
	fmt.Fprintf(w, "%s %s\n", style.StatusDot(ok), label)
}

func printSelfCheck(w io.Writer, r types.HealthReport) error {
	if jsonOutput {
		return writeJSON(w, r)
	}

	fmt.Fprintln(w, style.Title.Render(r.Hostname+" "+string(r.Status)))
	fmt.Fprintln(w, style.KV("status", style.HealthDot(r.Status)+" "+string(r.Status)))
	fmt.Fprintln(w, style.KV("uptime", (time.Duration(r.UptimeSeconds)*time.Second).String()))
	fmt.Fprintln(w, style.KV("cpu", fmt.Sprintf("%.1f%%", r.System.CPUPercent)))
	fmt.Fprintln(w, style.KV("memory", fmt.Sprintf("%.1f%%", r.System.MemoryPercent)))
	fmt.Fprintln(w, style.KV("disk", fmt.Sprintf("%.1f%%", r.System.DiskPercent)))
	fmt.Fprintln(w, style.KV("load", fmt.Sprintf("%.2f %.2f %.2f", r.System.LoadAverage[0], r.System.LoadAverage[1], r.System.LoadAverage[2])))
	if r.GPU != nil {
		fmt.Fprintln(w, style.KV("gpus", fmt.Sprintf("%d (driver %s)", r.GPU.Count, r.GPU.DriverVersion)))
	} else {
		fmt.Fprintln(w, style.KV("gpus", style.DimText.Render("none")))
	}
	printProcessLines(w, r.Processes)
	for _, ni := range r.Interfaces {
		line := fmt.Sprintf("%s %s mtu %d", ni.Name, ni.State, ni.MTU)
		if ni.SpeedMbps > 0 {
			line += fmt.Sprintf(" %d Mb/s", ni.SpeedMbps)
		}
		fmt.Fprintf(w, "  %s %s\n", style.StatusDot(ni.Up), line)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintln(w, style.Warning.Render("  "+warn))
	}
	return nil
}

func printGPU(w io.Writer, info *types.GPUInfo) error {
	if jsonOutput {
		if info == nil {
			info = &types.GPUInfo{}
		}
		return writeJSON(w, info)
	}
	if info == nil || !info.Available {
		fmt.Fprintf(w, "%s no GPU available\n", style.DotUnhealthy)
		return nil
	}
	fmt.Fprintf(w, "%s %d GPUs, driver %s\n", style.DotHealthy, info.Count, info.DriverVersion)
	for _, d := range info.Devices {
		fmt.Fprintf(w, "  [%d] %s %d/%d MiB %d%% %d°C\n",
			d.Index, style.Bold.Render(d.Name), d.MemoryUsedMiB, d.MemoryTotalMiB, d.Utilization, d.TemperatureC)
	}
	return nil
}

func printProcesses(w io.Writer, found map[string]bool) error {
	if jsonOutput {
		return writeJSON(w, found)
	}
	printProcessLines(w, found)
	return nil
}

func printProcessLines(w io.Writer, found map[string]bool) {
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", style.StatusDot(found[name]), name)
	}
}
