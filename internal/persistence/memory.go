package persistence

import (
	"context"
	"sync"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// memoryStore implements ReportStore in process memory
type memoryStore struct {
	mu      sync.RWMutex
	runs    map[string]map[types.RunID]*types.ClusterStatusReport
	history map[string][]types.RunID
	limit   int
}

// NewMemoryStore creates an in-memory report store keeping limit runs per cluster
func NewMemoryStore(limit int) ReportStore {
	return &memoryStore{
		runs:    make(map[string]map[types.RunID]*types.ClusterStatusReport),
		history: make(map[string][]types.RunID),
		limit:   limit,
	}
}

func (m *memoryStore) Save(ctx context.Context, report *types.ClusterStatusReport) error {
	if err := checkReport(report); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	runs, ok := m.runs[report.ClusterName]
	if !ok {
		runs = make(map[types.RunID]*types.ClusterStatusReport)
		m.runs[report.ClusterName] = runs
	}
	if _, seen := runs[report.RunID]; !seen {
		m.history[report.ClusterName] = append([]types.RunID{report.RunID}, m.history[report.ClusterName]...)
	}
	runs[report.RunID] = report.Clone()

	if m.limit > 0 && len(m.history[report.ClusterName]) > m.limit {
		for _, old := range m.history[report.ClusterName][m.limit:] {
			delete(runs, old)
		}
		m.history[report.ClusterName] = m.history[report.ClusterName][:m.limit]
	}
	return nil
}

func (m *memoryStore) Latest(ctx context.Context, clusterName string) (*types.ClusterStatusReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.history[clusterName]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return m.runs[clusterName][ids[0]].Clone(), nil
}

func (m *memoryStore) Get(ctx context.Context, clusterName string, runID types.RunID) (*types.ClusterStatusReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report, ok := m.runs[clusterName][runID]
	if !ok {
		return nil, ErrNotFound
	}
	return report.Clone(), nil
}

func (m *memoryStore) History(ctx context.Context, clusterName string, limit int) ([]types.RunID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.history[clusterName]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return append([]types.RunID(nil), ids...), nil
}

func (m *memoryStore) Close() error {
	return nil
}
