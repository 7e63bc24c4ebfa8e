package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/williamhogman/sparkmesh/internal/types"
)

const historyFile = "history"

// fileStore implements ReportStore as JSON files under a state directory:
// <dir>/<cluster>/runs/<run>.json plus a newest-first history index
type fileStore struct {
	mu    sync.Mutex
	dir   string
	limit int
}

// NewFileStore creates a file-backed report store rooted at dir
func NewFileStore(dir string, limit int) (ReportStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &fileStore{dir: dir, limit: limit}, nil
}

func (f *fileStore) clusterDir(clusterName string) string {
	return filepath.Join(f.dir, sanitize(clusterName))
}

func (f *fileStore) runPath(clusterName string, runID types.RunID) string {
	return filepath.Join(f.clusterDir(clusterName), "runs", sanitize(runID.String())+".json")
}

func (f *fileStore) Save(ctx context.Context, report *types.ClusterStatusReport) error {
	if err := checkReport(report); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := report.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.RunID, err)
	}
	if err := writeAtomic(f.runPath(report.ClusterName, report.RunID), data); err != nil {
		return err
	}

	ids, err := f.readHistory(report.ClusterName)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == report.RunID {
			return nil
		}
	}

	ids = append([]types.RunID{report.RunID}, ids...)
	if f.limit > 0 && len(ids) > f.limit {
		for _, old := range ids[f.limit:] {
			if err := os.Remove(f.runPath(report.ClusterName, old)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to prune run %s: %w", old, err)
			}
		}
		ids = ids[:f.limit]
	}
	return f.writeHistory(report.ClusterName, ids)
}

func (f *fileStore) Latest(ctx context.Context, clusterName string) (*types.ClusterStatusReport, error) {
	f.mu.Lock()
	ids, err := f.readHistory(clusterName)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return f.Get(ctx, clusterName, ids[0])
}

func (f *fileStore) Get(ctx context.Context, clusterName string, runID types.RunID) (*types.ClusterStatusReport, error) {
	data, err := os.ReadFile(f.runPath(clusterName, runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var report types.ClusterStatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &report, nil
}

func (f *fileStore) History(ctx context.Context, clusterName string, limit int) ([]types.RunID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.readHistory(clusterName)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fileStore) Close() error {
	return nil
}

func (f *fileStore) readHistory(clusterName string) ([]types.RunID, error) {
	data, err := os.ReadFile(filepath.Join(f.clusterDir(clusterName), historyFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	var ids []types.RunID
	for _, line := range strings.Split(string(data), "\n") {
		if id, err := types.NewRunID(strings.TrimSpace(line)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fileStore) writeHistory(clusterName string, ids []types.RunID) error {
	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = id.String()
	}
	return writeAtomic(filepath.Join(f.clusterDir(clusterName), historyFile), []byte(strings.Join(lines, "\n")+"\n"))
}

// writeAtomic replaces path so readers never observe a partial file
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
