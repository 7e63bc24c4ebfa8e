package orchestrator

import (
	"sync"
	"time"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// Observer receives a private copy of the report after each phase and at
// the end of the run
type Observer func(report *types.ClusterStatusReport)

// runState owns the mutable report of one run. All writes go through it,
// and readers only ever see copies.
type runState struct {
	mu        sync.Mutex
	report    *types.ClusterStatusReport
	observers []Observer
}

func newRunState(report *types.ClusterStatusReport, observers []Observer) *runState {
	return &runState{report: report, observers: observers}
}

func (r *runState) update(fn func(report *types.ClusterStatusReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.report)
}

// setNode applies fn to one node slot of one phase
func (r *runState) setNode(phaseIdx int, hostname string, fn func(n *types.NodeResult)) {
	r.update(func(report *types.ClusterStatusReport) {
		nodes := report.Phases[phaseIdx].Nodes
		for i := range nodes {
			if nodes[i].Hostname == hostname {
				fn(&nodes[i])
				return
			}
		}
	})
}

func (r *runState) start(phaseIdx int, hostname string, at time.Time) {
	r.setNode(phaseIdx, hostname, func(n *types.NodeResult) {
		n.Outcome = types.OutcomeRunning
		n.StartedAt = at
	})
}

func (r *runState) finish(phaseIdx int, hostname string, outcome types.Outcome, cause string, err error, at time.Time) {
	r.setNode(phaseIdx, hostname, func(n *types.NodeResult) {
		n.Outcome = outcome
		n.Cause = cause
		if err != nil {
			n.Error = err.Error()
		}
		if !n.StartedAt.IsZero() {
			n.DurationMs = at.Sub(n.StartedAt).Milliseconds()
		}
	})
}

func (r *runState) skip(phaseIdx int, hostname, cause string) {
	r.setNode(phaseIdx, hostname, func(n *types.NodeResult) {
		n.Outcome = types.OutcomeSkipped
		n.Cause = cause
	})
}

func (r *runState) phase(phaseIdx int) types.PhaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr := r.report.Phases[phaseIdx]
	pr.Nodes = append([]types.NodeResult(nil), pr.Nodes...)
	return pr
}

func (r *runState) snapshot() *types.ClusterStatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.Clone()
}

func (r *runState) publish() {
	for _, obs := range r.observers {
		obs(r.snapshot())
	}
}
