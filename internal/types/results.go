package types

import "time"

// Skip causes recorded on node results
const (
	CauseFeatureDisabled  = "feature disabled"
	CauseDependencyFailed = "dependency failed"
	CauseHalted           = "run halted"
)

// NodeResult is the outcome of one phase on one node
type NodeResult struct {
	Hostname   string    `json:"hostname"`
	Outcome    Outcome   `json:"outcome"`
	Cause      string    `json:"cause,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// PhaseResult is the cluster-wide outcome of one phase. It is finalized once
// every node is terminal and is not modified afterwards.
type PhaseResult struct {
	Phase      Phase        `json:"phase"`
	Status     PhaseStatus  `json:"status"`
	Nodes      []NodeResult `json:"nodes"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Node returns the result for a hostname, if present
func (p PhaseResult) Node(hostname string) (NodeResult, bool) {
	for _, n := range p.Nodes {
		if n.Hostname == hostname {
			return n, true
		}
	}
	return NodeResult{}, false
}

// Counts returns how many nodes ended in each outcome
func (p PhaseResult) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, n := range p.Nodes {
		counts[n.Outcome]++
	}
	return counts
}

// TestKind names a validation test
type TestKind string

const (
	TestSSH       TestKind = "ssh"
	TestPing      TestKind = "ping"
	TestBandwidth TestKind = "bandwidth"
	TestGPU       TestKind = "gpu"
)

// AllTests lists every validation test in report order
var AllTests = []TestKind{TestSSH, TestPing, TestBandwidth, TestGPU}

// Valid reports whether k is a known test
func (k TestKind) Valid() bool {
	for _, t := range AllTests {
		if t == k {
			return true
		}
	}
	return false
}

// TestMetrics holds the measurements a test may produce
type TestMetrics struct {
	LatencyMinMs  float64 `json:"latency_min_ms,omitempty"`
	LatencyAvgMs  float64 `json:"latency_avg_ms,omitempty"`
	LatencyMaxMs  float64 `json:"latency_max_ms,omitempty"`
	PacketLossPct float64 `json:"packet_loss_pct,omitempty"`
	BandwidthGbps float64 `json:"bandwidth_gbps,omitempty"`
	Retransmits   int     `json:"retransmits,omitempty"`
	GPUCount      int     `json:"gpu_count,omitempty"`
	Topology      string  `json:"topology,omitempty"`
	Output        string  `json:"output,omitempty"`
}

// ValidationTestResult is the outcome of a single validation test.
// Peer is empty for tests that target a single node.
type ValidationTestResult struct {
	Kind       TestKind    `json:"kind"`
	Node       string      `json:"node"`
	Peer       string      `json:"peer,omitempty"`
	Success    bool        `json:"success"`
	Skipped    bool        `json:"skipped,omitempty"`
	Metrics    TestMetrics `json:"metrics"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Involves reports whether the test touched the given host
func (r ValidationTestResult) Involves(hostname string) bool {
	return r.Node == hostname || r.Peer == hostname
}

// Failed reports whether the test ran and did not succeed
func (r ValidationTestResult) Failed() bool {
	return !r.Success && !r.Skipped
}
