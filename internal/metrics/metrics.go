package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/williamhogman/sparkmesh/internal/types"
)

const namespace = "sparkmesh"

// Recorder exposes run, validation and health results as prometheus series.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	phaseDuration   *prometheus.HistogramVec
	nodeOutcomes    *prometheus.CounterVec
	runs            *prometheus.CounterVec
	validationTests *prometheus.CounterVec
	bandwidthGbps   *prometheus.GaugeVec
	latencyMs       *prometheus.GaugeVec
	healthStatus    *prometheus.GaugeVec
	cpuPercent      *prometheus.GaugeVec
	memoryPercent   *prometheus.GaugeVec
}

// NewRecorder registers the sparkmesh collectors on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each bring-up phase.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"phase"}),
		nodeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_node_outcomes_total",
			Help:      "Per-node phase outcomes.",
		}, []string{"phase", "outcome"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestrator runs by final state.",
		}, []string{"state"}),
		validationTests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_tests_total",
			Help:      "Validation tests by kind and result.",
		}, []string{"kind", "result"}),
		bandwidthGbps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_bandwidth_gbps",
			Help:      "Last measured throughput between two nodes.",
		}, []string{"node", "peer"}),
		latencyMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_latency_avg_ms",
			Help:      "Last measured average round-trip latency between two nodes.",
		}, []string{"node", "peer"}),
		healthStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "1 for the current health status of a host, 0 for the others.",
		}, []string{"hostname", "status"}),
		cpuPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "CPU utilisation over the sampling window.",
		}, []string{"hostname"}),
		memoryPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Memory in use.",
		}, []string{"hostname"}),
	}
}

// ObservePhase records a finalized phase
func (r *Recorder) ObservePhase(result types.PhaseResult) {
	if r == nil {
		return
	}
	if result.Status != types.PhaseStatusSkipped {
		r.phaseDuration.WithLabelValues(string(result.Phase)).Observe(float64(result.DurationMs) / 1000)
	}
	for _, n := range result.Nodes {
		r.nodeOutcomes.WithLabelValues(string(result.Phase), string(n.Outcome)).Inc()
	}
}

// ObserveRun records the final state of a run
func (r *Recorder) ObserveRun(report *types.ClusterStatusReport) {
	if r == nil || report == nil {
		return
	}
	r.runs.WithLabelValues(string(report.State)).Inc()
}

// ObserveTest records one validation test result
func (r *Recorder) ObserveTest(result types.ValidationTestResult) {
	if r == nil {
		return
	}
	outcome := "failed"
	switch {
	case result.Skipped:
		outcome = "skipped"
	case result.Success:
		outcome = "success"
	}
	r.validationTests.WithLabelValues(string(result.Kind), outcome).Inc()

	if !result.Success || result.Peer == "" {
		return
	}
	switch result.Kind {
	case types.TestBandwidth:
		r.bandwidthGbps.WithLabelValues(result.Node, result.Peer).Set(result.Metrics.BandwidthGbps)
	case types.TestPing:
		r.latencyMs.WithLabelValues(result.Node, result.Peer).Set(result.Metrics.LatencyAvgMs)
	}
}

// ObserveHealth records a host self-check
func (r *Recorder) ObserveHealth(report types.HealthReport) {
	if r == nil {
		return
	}
	for _, status := range []types.HealthStatus{types.HealthHealthy, types.HealthDegraded, types.HealthUnhealthy} {
		v := 0.0
		if report.Status == status {
			v = 1
		}
		r.healthStatus.WithLabelValues(report.Hostname, string(status)).Set(v)
	}
	r.cpuPercent.WithLabelValues(report.Hostname).Set(report.System.CPUPercent)
	r.memoryPercent.WithLabelValues(report.Hostname).Set(report.System.MemoryPercent)
}

// WriteTextfile dumps every series in g for the node exporter textfile collector
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
