package types

import (
	"fmt"
	"strings"
)

// Phase is one named stage of cluster bring-up
type Phase string

const (
	PhaseSSH       Phase = "ssh"
	PhaseTailscale Phase = "tailscale"
	PhaseMultiNode Phase = "multi_node"
	PhaseNCCL      Phase = "nccl"
	PhaseValidate  Phase = "validate"
)

// AllPhases lists every phase in execution order
var AllPhases = []Phase{PhaseSSH, PhaseTailscale, PhaseMultiNode, PhaseNCCL, PhaseValidate}

// ParsePhase accepts both the snake_case and the CLI dashed spelling
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	for _, known := range AllPhases {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Index returns the position of the phase in execution order, or -1
func (p Phase) Index() int {
	for i, known := range AllPhases {
		if p == known {
			return i
		}
	}
	return -1
}

// CLIName returns the spelling used for subcommands
func (p Phase) CLIName() string {
	return strings.ReplaceAll(string(p), "_", "-")
}

// Outcome is the state of one phase on one node
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Terminal reports whether no further transition can happen
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomeSkipped
}

// PhaseStatus is the cluster-level result of a phase
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusSucceeded PhaseStatus = "succeeded"
	PhaseStatusPartial   PhaseStatus = "partial_failure"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// Failed reports whether at least one node failed the phase
func (s PhaseStatus) Failed() bool {
	return s == PhaseStatusPartial || s == PhaseStatusFailed
}

// RunState is the lifecycle state of an orchestrator run
type RunState string

const (
	RunPlanning  RunState = "planning"
	RunExecuting RunState = "executing"
	RunCompleted RunState = "completed"
	RunHalted    RunState = "halted"
)
