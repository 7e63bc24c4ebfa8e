package style

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/williamhogman/sparkmesh/internal/types"
)

func TestPhaseDot(t *testing.T) {
	assert.Equal(t, DotHealthy, PhaseDot(types.PhaseStatusSucceeded))
	assert.Equal(t, DotWarning, PhaseDot(types.PhaseStatusPartial))
	assert.Equal(t, DotUnhealthy, PhaseDot(types.PhaseStatusFailed))
	assert.Equal(t, DotDim, PhaseDot(types.PhaseStatusSkipped))
}

func TestOutcomeTextKeepsLabel(t *testing.T) {
	for _, o := range []types.Outcome{types.OutcomeSuccess, types.OutcomeFailed, types.OutcomeSkipped} {
		assert.Contains(t, OutcomeText(o), string(o))
	}
}

func TestKV(t *testing.T) {
	assert.Contains(t, KV("cluster", "spark-lab"), "spark-lab")
}
