package orchestrator

import "github.com/williamhogman/sparkmesh/internal/types"

// Process exit codes. A halted run exits with 10*(phase position+1) plus
// 1 for a partial failure or 2 when every attempted node failed, so ssh
// yields 11/12, tailscale 21/22, multi_node 31/32, nccl 41/42, validate 51/52.
const (
	ExitOK          = 0
	ExitInternal    = 1
	ExitConfigError = 2

	exitPartialOffset = 1
	exitTotalOffset   = 2
)

// ExitCode maps a finished run to its process exit code
func ExitCode(report *types.ClusterStatusReport) int {
	if report == nil {
		return ExitInternal
	}
	switch report.State {
	case types.RunCompleted:
		return ExitOK
	case types.RunHalted:
		idx := report.HaltedPhase.Index()
		pr, ok := report.Phase(report.HaltedPhase)
		if idx < 0 || !ok {
			return ExitInternal
		}
		base := 10 * (idx + 1)
		if pr.Status == types.PhaseStatusFailed {
			return base + exitTotalOffset
		}
		return base + exitPartialOffset
	default:
		return ExitInternal
	}
}
