package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/config"
	"github.com/williamhogman/sparkmesh/internal/logging"
	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
	"github.com/williamhogman/sparkmesh/internal/validator"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitConfigError = 2
)

var (
	testNames   []string
	outputFile  string
	sshKey      string
	sshUser     string
	sshPort     int
	expectGPU   bool
	pingCount   int
	bwDuration  time.Duration
	bwPort      int
	parallelism int
	jsonOutput  bool
)

var errTestsFailed = errors.New("one or more tests failed")

var defaultTests = []string{"ssh", "ping", "bandwidth", "gpu"}

// Color formatters
var (
	infoColor    = color.New(color.FgBlue).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
)

// Everything wires the remote executor and the validator
var Everything = fx.Options(
	config.Module,
	logging.Module,
	metrics.Module,
	remote.Module,
	validator.Module,
)

var rootCmd = &cobra.Command{
	Use:   "validator NODE NODE...",
	Short: "Check SSH reachability, latency, bandwidth and GPUs between nodes",
	Long: `validator runs connectivity tests against two or more nodes. Nodes are
given as [user@]host or [user@]host=ip. ssh and gpu run once per node, ping
and bandwidth once per pair.`,
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runValidate,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringSliceVar(&testNames, "tests", defaultTests, "tests to run: ssh, ping, bandwidth, gpu")
	flags.StringVarP(&outputFile, "output", "o", "", "write results as JSON to this file")
	flags.StringVar(&sshKey, "ssh-key", "", "private key used to reach the nodes (default ~/.ssh/dgx_key)")
	flags.StringVar(&sshUser, "user", "", "login user for nodes given without user@")
	flags.IntVar(&sshPort, "ssh-port", cluster.DefaultSSHPort, "SSH port")
	flags.BoolVar(&expectGPU, "expect-gpu", false, "fail the gpu test on nodes without GPUs")
	flags.IntVar(&pingCount, "ping-count", cluster.DefaultPingCount, "echo requests per ping test")
	flags.DurationVar(&bwDuration, "duration", cluster.DefaultBandwidthDuration, "length of each bandwidth test")
	flags.IntVar(&bwPort, "port", cluster.DefaultBandwidthPort, "iperf3 server port")
	flags.IntVar(&parallelism, "parallel", 0, "maximum tests in flight (0 for no limit)")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		os.Exit(exitOK)
	case errors.Is(err, errTestsFailed):
		os.Exit(exitFailed)
	case cluster.IsConfigError(err):
		fmt.Fprintln(os.Stderr, errorColor("[ERROR]"), err)
		os.Exit(exitConfigError)
	default:
		fmt.Fprintln(os.Stderr, errorColor("[ERROR]"), err)
		os.Exit(exitFailed)
	}
}

// parseNode accepts [user@]host or [user@]host=ip
func parseNode(arg, defaultUser string) types.Node {
	node := types.Node{User: defaultUser}
	if at := strings.LastIndex(arg, "@"); at >= 0 {
		node.User = arg[:at]
		arg = arg[at+1:]
	}
	if host, ip, ok := strings.Cut(arg, "="); ok {
		node.Hostname, node.IP = host, ip
	} else {
		node.Hostname = arg
	}
	return node
}

func parseTests(names []string) ([]types.TestKind, error) {
	var kinds []types.TestKind
	for _, name := range names {
		kind := types.TestKind(strings.TrimSpace(name))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown test %q", name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// adhocCluster describes the nodes under test so the executor can be wired
// the same way as for a configured cluster
func adhocCluster(args []string) (*cluster.ClusterConfig, error) {
	env, err := cluster.LoadEnvOverrides()
	if err != nil {
		return nil, err
	}
	raw := cluster.ClusterConfig{
		ClusterName:     "adhoc",
		SSHKeyPath:      sshKey,
		SSHPort:         sshPort,
		EnableTailscale: cluster.Bool(false),
	}
	for _, arg := range args {
		raw.Nodes = append(raw.Nodes, parseNode(arg, sshUser))
	}
	cfg := cluster.ApplyDefaults(raw, env)
	if err := cluster.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// testReport is the JSON document written by --output and --json
type testReport struct {
	Timestamp time.Time                    `json:"timestamp"`
	Nodes     []types.Node                 `json:"nodes"`
	Summary   validator.Summary            `json:"summary"`
	Tests     []types.ValidationTestResult `json:"tests"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	kinds, err := parseTests(testNames)
	if err != nil {
		return err
	}
	cl, err := adhocCluster(args)
	if err != nil {
		return err
	}

	var v *validator.Validator
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cl),
		Everything,
		fx.Populate(&v),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	if !jsonOutput {
		logInfo("validating %d nodes: %s", len(cl.Nodes), strings.Join(testNames, ", "))
	}
	results := v.Validate(ctx, cl.Nodes, validator.Options{
		Tests:             kinds,
		PingCount:         pingCount,
		BandwidthDuration: bwDuration,
		BandwidthPort:     bwPort,
		ExpectGPU:         expectGPU,
		Parallelism:       parallelism,
	})

	report := testReport{
		Timestamp: time.Now().UTC(),
		Nodes:     cl.Nodes,
		Summary:   validator.Summarize(results),
		Tests:     results,
	}
	if err := writeReport(report); err != nil {
		return err
	}

	if !validator.AllPassed(results) {
		return errTestsFailed
	}
	return nil
}

func writeReport(report testReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}
	if jsonOutput {
		fmt.Println(string(data))
		return nil
	}

	for _, r := range report.Tests {
		printResult(r)
	}
	s := report.Summary
	logInfo("%d passed, %d failed, %d skipped; %d nodes reachable, %d with GPUs",
		s.Passed, s.Failed, s.Skipped, s.ReachableNodes, s.GPUNodes)
	if s.AvgLatencyMs > 0 {
		logInfo("average latency %.3f ms", s.AvgLatencyMs)
	}
	if s.AvgBandwidthGbps > 0 {
		logInfo("average bandwidth %.2f Gbps", s.AvgBandwidthGbps)
	}
	if outputFile != "" {
		logInfo("results written to %s", outputFile)
	}
	return nil
}

func printResult(r types.ValidationTestResult) {
	label := string(r.Kind) + " " + r.Node
	if r.Peer != "" {
		label += " -> " + r.Peer
	}
	switch {
	case r.Skipped:
		logWarning("%s skipped: %s", label, r.Error)
	case r.Success:
		logSuccess("%s %s", label, describeMetrics(r))
	default:
		logError("%s failed: %s", label, r.Error)
	}
}

func describeMetrics(r types.ValidationTestResult) string {
	m := r.Metrics
	switch r.Kind {
	case types.TestPing:
		return fmt.Sprintf("avg %.3f ms, %.0f%% loss", m.LatencyAvgMs, m.PacketLossPct)
	case types.TestBandwidth:
		return fmt.Sprintf("%.2f Gbps, %d retransmits", m.BandwidthGbps, m.Retransmits)
	case types.TestGPU:
		return fmt.Sprintf("%d GPUs", m.GPUCount)
	default:
		return fmt.Sprintf("%dms", r.DurationMs)
	}
}

func logInfo(format string, args ...any) {
	fmt.Printf("%s %s\n", infoColor("[INFO]"), fmt.Sprintf(format, args...))
}

func logSuccess(format string, args ...any) {
	fmt.Printf("%s %s\n", successColor("[PASS]"), fmt.Sprintf(format, args...))
}

func logError(format string, args ...any) {
	fmt.Printf("%s %s\n", errorColor("[FAIL]"), fmt.Sprintf(format, args...))
}

func logWarning(format string, args ...any) {
	fmt.Printf("%s %s\n", warningColor("[SKIP]"), fmt.Sprintf(format, args...))
}
