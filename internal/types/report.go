package types

import (
	"encoding/json"
	"time"
)

// ClusterStatusReport is the aggregate view of one run. It is owned by the
// run that produces it and handed to readers only as a copy.
type ClusterStatusReport struct {
	RunID        RunID                   `json:"run_id"`
	ClusterName  string                  `json:"cluster_name"`
	State        RunState                `json:"state"`
	HaltedPhase  Phase                   `json:"halted_phase,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Nodes        []Node                  `json:"nodes"`
	Phases       []PhaseResult           `json:"phases"`
	Tests        []ValidationTestResult  `json:"tests,omitempty"`
	Health       map[string]HealthReport `json:"health,omitempty"`
	HealthErrors map[string]string       `json:"health_errors,omitempty"`
}

// Phase returns the result of a named phase, if it was planned
func (r *ClusterStatusReport) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Clone returns a deep copy that shares no memory with r
func (r *ClusterStatusReport) Clone() *ClusterStatusReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Nodes = append([]Node(nil), r.Nodes...)
	out.Phases = make([]PhaseResult, len(r.Phases))
	for i, pr := range r.Phases {
		pr.Nodes = append([]NodeResult(nil), pr.Nodes...)
		out.Phases[i] = pr
	}
	out.Tests = append([]ValidationTestResult(nil), r.Tests...)
	if r.Health != nil {
		out.Health = make(map[string]HealthReport, len(r.Health))
		for host, h := range r.Health {
			out.Health[host] = cloneHealth(h)
		}
	}
	if r.HealthErrors != nil {
		out.HealthErrors = make(map[string]string, len(r.HealthErrors))
		for host, msg := range r.HealthErrors {
			out.HealthErrors[host] = msg
		}
	}
	return &out
}

func cloneHealth(h HealthReport) HealthReport {
	out := h
	if h.GPU != nil {
		gpu := *h.GPU
		gpu.Devices = append([]GPUDevice(nil), h.GPU.Devices...)
		out.GPU = &gpu
	}
	if h.Processes != nil {
		out.Processes = make(map[string]bool, len(h.Processes))
		for name, ok := range h.Processes {
			out.Processes[name] = ok
		}
	}
	out.Interfaces = append([]NetInterface(nil), h.Interfaces...)
	out.Warnings = append([]string(nil), h.Warnings...)
	return out
}

// MarshalIndent renders the report as indented JSON
func (r *ClusterStatusReport) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
