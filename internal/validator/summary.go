package validator

import "github.com/williamhogman/sparkmesh/internal/types"

// Summary condenses a validation run for display
type Summary struct {
	Total            int     `json:"total"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	Skipped          int     `json:"skipped"`
	ReachableNodes   int     `json:"reachable_nodes"`
	AvgLatencyMs     float64 `json:"avg_latency_ms,omitempty"`
	AvgBandwidthGbps float64 `json:"avg_bandwidth_gbps,omitempty"`
	GPUNodes         int     `json:"gpu_nodes"`
}

// Summarize counts outcomes and averages link measurements
func Summarize(results []types.ValidationTestResult) Summary {
	var s Summary
	var latency, bandwidth float64
	var pings, links int

	for _, r := range results {
		s.Total++
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Success:
			s.Passed++
		default:
			s.Failed++
		}
		if !r.Success {
			continue
		}
		switch r.Kind {
		case types.TestSSH:
			s.ReachableNodes++
		case types.TestPing:
			latency += r.Metrics.LatencyAvgMs
			pings++
		case types.TestBandwidth:
			bandwidth += r.Metrics.BandwidthGbps
			links++
		case types.TestGPU:
			s.GPUNodes++
		}
	}
	if pings > 0 {
		s.AvgLatencyMs = latency / float64(pings)
	}
	if links > 0 {
		s.AvgBandwidthGbps = bandwidth / float64(links)
	}
	return s
}
