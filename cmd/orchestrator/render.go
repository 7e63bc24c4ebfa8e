package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/williamhogman/sparkmesh/internal/orchestrator"
	"github.com/williamhogman/sparkmesh/internal/style"
	"github.com/williamhogman/sparkmesh/internal/types"
	"github.com/williamhogman/sparkmesh/internal/validator"
)

// clusterInfo is what the info command shows
type clusterInfo struct {
	Cluster   string         `json:"cluster_name"`
	Nodes     []types.Node   `json:"nodes"`
	Phases    []types.Phase  `json:"phases"`
	LastState types.RunState `json:"last_state,omitempty"`
	LastRunAt time.Time      `json:"last_run_at,omitempty"`
	History   []types.RunID  `json:"history"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter prints one line per phase as soon as it finishes
func progressPrinter(w io.Writer) orchestrator.Observer {
	printed := make(map[types.Phase]bool)
	return func(r *types.ClusterStatusReport) {
		for _, pr := range r.Phases {
			if printed[pr.Phase] || pr.Status == types.PhaseStatusPending || pr.Status == types.PhaseStatusRunning {
				continue
			}
			printed[pr.Phase] = true
			fmt.Fprintf(w, "  %s %-10s %s\n", style.PhaseDot(pr.Status), pr.Phase, style.DimText.Render(string(pr.Status)))
		}
	}
}

func renderReport(w io.Writer, r *types.ClusterStatusReport) {
	fmt.Fprintln(w, style.Title.Render("sparkmesh "+r.ClusterName))
	fmt.Fprintln(w, style.KV("run", r.RunID.String()))
	fmt.Fprintln(w, style.KV("state", string(r.State)))
	fmt.Fprintln(w, style.KV("started", r.StartedAt.Format(time.RFC3339)))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintln(w, style.KV("duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, style.TableHeader.Render("PHASE")+"\t"+
		style.TableHeader.Render("STATUS")+"\t"+
		style.TableHeader.Render("OK")+"\t"+
		style.TableHeader.Render("FAILED")+"\t"+
		style.TableHeader.Render("SKIPPED"))
	for _, pr := range r.Phases {
		counts := pr.Counts()
		fmt.Fprintf(tw, "%s %s\t%s\t%d\t%d\t%d\n",
			style.PhaseDot(pr.Status),
			style.Bold.Render(string(pr.Phase)),
			pr.Status,
			counts[types.OutcomeSuccess],
			counts[types.OutcomeFailed],
			counts[types.OutcomeSkipped],
		)
	}
	tw.Flush()

	renderNodeProblems(w, r)
	renderTests(w, r.Tests)
	renderHealth(w, r)

	switch r.State {
	case types.RunCompleted:
		fmt.Fprintln(w, style.SuccessBox.Render("cluster ready"))
	case types.RunHalted:
		fmt.Fprintln(w, style.ErrorBox.Render(fmt.Sprintf("halted at %s (exit %d)", r.HaltedPhase, orchestrator.ExitCode(r))))
	}
}

func renderNodeProblems(w io.Writer, r *types.ClusterStatusReport) {
	var lines []string
	for _, pr := range r.Phases {
		for _, nr := range pr.Nodes {
			switch {
			case nr.Outcome == types.OutcomeFailed:
				lines = append(lines, fmt.Sprintf("  %s %s/%s %s", style.DotUnhealthy, pr.Phase, nr.Hostname, nr.Error))
			case nr.Outcome == types.OutcomeSkipped && strings.HasPrefix(nr.Cause, types.CauseDependencyFailed):
				lines = append(lines, fmt.Sprintf("  %s %s/%s %s", style.DotDim, pr.Phase, nr.Hostname, nr.Cause))
			}
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, style.Bold.Render("problems"))
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func renderTests(w io.Writer, tests []types.ValidationTestResult) {
	if len(tests) == 0 {
		return
	}
	s := validator.Summarize(tests)
	fmt.Fprintln(w)
	fmt.Fprintln(w, style.Bold.Render("validation"))
	fmt.Fprintln(w, style.KV("tests", fmt.Sprintf("%d passed, %d failed, %d skipped", s.Passed, s.Failed, s.Skipped)))
	fmt.Fprintln(w, style.KV("reachable", fmt.Sprintf("%d", s.ReachableNodes)))
	if s.AvgLatencyMs > 0 {
		fmt.Fprintln(w, style.KV("latency", fmt.Sprintf("%.3f ms avg", s.AvgLatencyMs)))
	}
	if s.AvgBandwidthGbps > 0 {
		fmt.Fprintln(w, style.KV("bandwidth", fmt.Sprintf("%.1f Gbps avg", s.AvgBandwidthGbps)))
	}
	fmt.Fprintln(w, style.KV("gpu nodes", fmt.Sprintf("%d", s.GPUNodes)))
	for _, t := range tests {
		if t.Failed() {
			fmt.Fprintf(w, "  %s %s %s\n", style.DotUnhealthy, testLabel(t), t.Error)
		}
	}
}

func testLabel(t types.ValidationTestResult) string {
	if t.Peer != "" {
		return fmt.Sprintf("%s %s->%s", t.Kind, t.Node, t.Peer)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Node)
}

func renderHealth(w io.Writer, r *types.ClusterStatusReport) {
	if len(r.Health) == 0 && len(r.HealthErrors) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, style.Bold.Render("health"))

	hosts := make([]string, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		hosts = append(hosts, n.Hostname)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		if msg, ok := r.HealthErrors[h]; ok {
			fmt.Fprintf(w, "  %s %s unreachable: %s\n", style.DotUnhealthy, h, msg)
			continue
		}
		report, ok := r.Health[h]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %s %s %s cpu %.1f%% mem %.1f%%\n",
			style.HealthDot(report.Status), h, report.Status,
			report.System.CPUPercent, report.System.MemoryPercent)
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "      %s\n", style.Warning.Render(warn))
		}
	}
}

func renderInfo(w io.Writer, info clusterInfo) {
	fmt.Fprintln(w, style.Title.Render("sparkmesh "+info.Cluster))

	phases := make([]string, len(info.Phases))
	for i, p := range info.Phases {
		phases[i] = string(p)
	}
	fmt.Fprintln(w, style.KV("phases", strings.Join(phases, " → ")))
	if info.LastState != "" {
		fmt.Fprintln(w, style.KV("last run", fmt.Sprintf("%s at %s", info.LastState, info.LastRunAt.Format(time.RFC3339))))
	}
	fmt.Fprintln(w)

	for _, n := range info.Nodes {
		fmt.Fprintf(w, "  %s %s %s\n", style.Bold.Render(n.Hostname), style.DimText.Render(n.Address()), style.RoleBadge.Render(string(n.Role)))
	}

	if len(info.History) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, style.Bold.Render("history"))
		for _, id := range info.History {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}
