package orchestrator

import (
	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/types"
)

// dependencies lists the phases each phase needs, when they are enabled.
// validate is gated at run level instead, so it can diagnose failed nodes.
var dependencies = map[types.Phase][]types.Phase{
	types.PhaseSSH:       nil,
	types.PhaseTailscale: {types.PhaseSSH},
	types.PhaseMultiNode: {types.PhaseSSH, types.PhaseTailscale},
	types.PhaseNCCL:      {types.PhaseSSH, types.PhaseTailscale, types.PhaseMultiNode},
	types.PhaseValidate:  nil,
}

// PlannedPhase is one entry of a plan
type PlannedPhase struct {
	Phase     types.Phase
	Enabled   bool
	DependsOn []types.Phase
}

// Plan is the ordered list of phases a run will visit
type Plan struct {
	Phases []PlannedPhase
}

// Enabled returns the phases that will execute, in order
func (p Plan) Enabled() []types.Phase {
	var out []types.Phase
	for _, pp := range p.Phases {
		if pp.Enabled {
			out = append(out, pp.Phase)
		}
	}
	return out
}

// Contains reports whether phase is part of the plan, enabled or not
func (p Plan) Contains(phase types.Phase) bool {
	for _, pp := range p.Phases {
		if pp.Phase == phase {
			return true
		}
	}
	return false
}

// NewPlan orders phases for cfg. When only is non-empty the plan is limited
// to those phases and their dependencies are assumed to be met already.
func NewPlan(cfg *cluster.ClusterConfig, only ...types.Phase) Plan {
	selected := make(map[types.Phase]bool, len(only))
	for _, p := range only {
		selected[p] = true
	}

	var plan Plan
	for _, phase := range types.AllPhases {
		if len(only) > 0 && !selected[phase] {
			continue
		}
		pp := PlannedPhase{Phase: phase, Enabled: cfg.PhaseEnabled(phase)}
		for _, dep := range dependencies[phase] {
			if cfg.PhaseEnabled(dep) && (len(only) == 0 || selected[dep]) {
				pp.DependsOn = append(pp.DependsOn, dep)
			}
		}
		plan.Phases = append(plan.Phases, pp)
	}
	return plan
}
