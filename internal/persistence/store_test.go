package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williamhogman/sparkmesh/internal/types"
)

func sampleReport(runID string, state types.RunState) *types.ClusterStatusReport {
	return &types.ClusterStatusReport{
		RunID:       types.RunID(runID),
		ClusterName: "spark-lab",
		State:       state,
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Nodes:       []types.Node{{Hostname: "spark-01"}},
		Phases: []types.PhaseResult{{
			Phase:  types.PhaseSSH,
			Status: types.PhaseStatusSucceeded,
			Nodes:  []types.NodeResult{{Hostname: "spark-01", Outcome: types.OutcomeSuccess}},
		}},
	}
}

func setupRedisTest(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	// Start a mock Redis server
	s, err := miniredis.Run()
	require.NoError(t, err)

	client, err := newRedisClient("redis://" + s.Addr())
	require.NoError(t, err)

	store, err := newRedisStore(client, defaultKeyPrefix, 2)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return store, s
}

func storesUnderTest(t *testing.T) map[string]ReportStore {
	fileStore, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	redisStore, _ := setupRedisTest(t)

	return map[string]ReportStore{
		"memory": NewMemoryStore(2),
		"file":   fileStore,
		"redis":  redisStore,
	}
}

func TestReportStores(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			defer store.Close()

			_, err := store.Latest(ctx, "spark-lab")
			assert.ErrorIs(t, err, ErrNotFound)

			// Saving the same run twice updates it in place
			require.NoError(t, store.Save(ctx, sampleReport("r1", types.RunExecuting)))
			require.NoError(t, store.Save(ctx, sampleReport("r1", types.RunCompleted)))

			latest, err := store.Latest(ctx, "spark-lab")
			require.NoError(t, err)
			assert.Equal(t, types.RunID("r1"), latest.RunID)
			assert.Equal(t, types.RunCompleted, latest.State)
			assert.Equal(t, types.OutcomeSuccess, latest.Phases[0].Nodes[0].Outcome)

			require.NoError(t, store.Save(ctx, sampleReport("r2", types.RunHalted)))
			require.NoError(t, store.Save(ctx, sampleReport("r3", types.RunCompleted)))

			ids, err := store.History(ctx, "spark-lab", 0)
			require.NoError(t, err)
			assert.Equal(t, []types.RunID{"r3", "r2"}, ids)

			_, err = store.Get(ctx, "spark-lab", "r1")
			assert.ErrorIs(t, err, ErrNotFound)

			r2, err := store.Get(ctx, "spark-lab", "r2")
			require.NoError(t, err)
			assert.Equal(t, types.RunHalted, r2.State)

			ids, err = store.History(ctx, "spark-lab", 1)
			require.NoError(t, err)
			assert.Equal(t, []types.RunID{"r3"}, ids)
		})
	}
}

func TestReportStores_RejectUnkeyedReport(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(context.Background(), &types.ClusterStatusReport{ClusterName: "x"})
			assert.ErrorIs(t, err, ErrInvalidReport)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	report := sampleReport("r1", types.RunCompleted)
	require.NoError(t, store.Save(ctx, report))
	report.Phases[0].Nodes[0].Outcome = types.OutcomeFailed

	got, err := store.Latest(ctx, "spark-lab")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, got.Phases[0].Nodes[0].Outcome)
}

func TestRedisStore_Keys(t *testing.T) {
	store, s := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleReport("r1", types.RunCompleted)))
	assert.True(t, s.Exists(store.formRunKey("spark-lab", "r1")))
	assert.True(t, s.Exists(store.formHistoryKey("spark-lab")))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "spark_lab_..", sanitize("spark/lab/.."))
}

func TestNewRedisClient_BadURI(t *testing.T) {
	_, err := newRedisClient("")
	assert.Error(t, err)
	_, err = newRedisClient("mysql://nope")
	assert.Error(t, err)
}
