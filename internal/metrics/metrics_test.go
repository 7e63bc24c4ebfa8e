package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williamhogman/sparkmesh/internal/types"
)

func TestRecorder_ObservePhase(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObservePhase(types.PhaseResult{
		Phase:      types.PhaseSSH,
		Status:     types.PhaseStatusPartial,
		DurationMs: 1500,
		Nodes: []types.NodeResult{
			{Hostname: "a", Outcome: types.OutcomeSuccess},
			{Hostname: "b", Outcome: types.OutcomeFailed},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.nodeOutcomes.WithLabelValues("ssh", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.nodeOutcomes.WithLabelValues("ssh", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.phaseDuration))
}

func TestRecorder_ObserveTest(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())

	rec.ObserveTest(types.ValidationTestResult{
		Kind: types.TestBandwidth, Node: "a", Peer: "b", Success: true,
		Metrics: types.TestMetrics{BandwidthGbps: 94.2},
	})
	rec.ObserveTest(types.ValidationTestResult{Kind: types.TestGPU, Node: "a", Skipped: true})

	assert.Equal(t, 94.2, testutil.ToFloat64(rec.bandwidthGbps.WithLabelValues("a", "b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.validationTests.WithLabelValues("gpu", "skipped")))
}

func TestRecorder_ObserveHealth(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())

	rec.ObserveHealth(types.HealthReport{Hostname: "a", Status: types.HealthDegraded})

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.healthStatus.WithLabelValues("a", "degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.healthStatus.WithLabelValues("a", "healthy")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	rec.ObservePhase(types.PhaseResult{})
	rec.ObserveRun(&types.ClusterStatusReport{})
	rec.ObserveTest(types.ValidationTestResult{})
	rec.ObserveHealth(types.HealthReport{})
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.ObserveRun(&types.ClusterStatusReport{State: types.RunCompleted})

	path := filepath.Join(t.TempDir(), "sparkmesh.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sparkmesh_runs_total{state="completed"} 1`)
}
