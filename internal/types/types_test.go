package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	id, err := NewRunID("run-abc")
	require.NoError(t, err)
	assert.Equal(t, RunID("abc"), id)
	assert.Equal(t, "run-abc", id.WithPrefix())

	_, err = NewRunID("run-")
	assert.ErrorIs(t, err, ErrEmptyID)

	assert.True(t, GenerateRunID().IsValid())
	assert.NotEqual(t, GenerateRunID(), GenerateRunID())
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("multi-node")
	require.NoError(t, err)
	assert.Equal(t, PhaseMultiNode, p)
	assert.Equal(t, "multi-node", p.CLIName())

	p, err = ParsePhase("NCCL")
	require.NoError(t, err)
	assert.Equal(t, PhaseNCCL, p)

	_, err = ParsePhase("docker")
	assert.Error(t, err)
}

func TestPhaseIndexFollowsExecutionOrder(t *testing.T) {
	assert.Less(t, PhaseSSH.Index(), PhaseTailscale.Index())
	assert.Less(t, PhaseTailscale.Index(), PhaseNCCL.Index())
	assert.Less(t, PhaseNCCL.Index(), PhaseValidate.Index())
	assert.Equal(t, -1, Phase("bogus").Index())
}

func TestOutcomeTerminal(t *testing.T) {
	assert.False(t, OutcomePending.Terminal())
	assert.False(t, OutcomeRunning.Terminal())
	assert.True(t, OutcomeSuccess.Terminal())
	assert.True(t, OutcomeFailed.Terminal())
	assert.True(t, OutcomeSkipped.Terminal())
}

func TestNodeAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.1", Node{Hostname: "a", IP: "10.0.0.1"}.Address())
	assert.Equal(t, "a", Node{Hostname: "a"}.Address())
}

func TestReportCloneIsIndependent(t *testing.T) {
	orig := &ClusterStatusReport{
		ClusterName: "c",
		Nodes:       []Node{{Hostname: "a"}},
		Phases: []PhaseResult{{
			Phase: PhaseSSH,
			Nodes: []NodeResult{{Hostname: "a", Outcome: OutcomeSuccess}},
		}},
		Health: map[string]HealthReport{
			"a": {
				Status:     HealthHealthy,
				Processes:  map[string]bool{"sshd": true},
				Interfaces: []NetInterface{{Name: "eth0", Up: true}},
			},
		},
	}

	cp := orig.Clone()
	cp.Phases[0].Nodes[0].Outcome = OutcomeFailed
	cp.Nodes[0].Hostname = "b"
	cp.Health["a"].Processes["sshd"] = false
	cp.Health["a"].Interfaces[0].Up = false

	assert.Equal(t, OutcomeSuccess, orig.Phases[0].Nodes[0].Outcome)
	assert.Equal(t, "a", orig.Nodes[0].Hostname)
	assert.True(t, orig.Health["a"].Processes["sshd"])
	assert.True(t, orig.Health["a"].Interfaces[0].Up)
}

func TestReportFinishedAtJSON(t *testing.T) {
	var decoded map[string]any

	running := &ClusterStatusReport{State: RunExecuting, StartedAt: time.Unix(0, 0).UTC()}
	b, err := running.MarshalIndent()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "0001-01-01T00:00:00Z", decoded["finished_at"])

	done := &ClusterStatusReport{State: RunCompleted, FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	b, err = done.MarshalIndent()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["finished_at"])
}

func TestPhaseResultCounts(t *testing.T) {
	pr := PhaseResult{Nodes: []NodeResult{
		{Hostname: "a", Outcome: OutcomeSuccess},
		{Hostname: "b", Outcome: OutcomeFailed},
		{Hostname: "c", Outcome: OutcomeSuccess},
	}}
	counts := pr.Counts()
	assert.Equal(t, 2, counts[OutcomeSuccess])
	assert.Equal(t, 1, counts[OutcomeFailed])

	n, ok := pr.Node("b")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, n.Outcome)
}
