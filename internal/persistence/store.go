package persistence

import (
	"context"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// ReportStore keeps run reports between invocations so status and info can
// answer without touching the cluster
type ReportStore interface {
	// Save records a report as the latest for its cluster
	Save(ctx context.Context, report *types.ClusterStatusReport) error

	// Latest returns the most recently saved report for a cluster
	Latest(ctx context.Context, clusterName string) (*types.ClusterStatusReport, error)

	// Get returns a specific run
	Get(ctx context.Context, clusterName string, runID types.RunID) (*types.ClusterStatusReport, error)

	// History lists run IDs for a cluster, newest first
	History(ctx context.Context, clusterName string, limit int) ([]types.RunID, error)

	// Close releases any resources held by the store
	Close() error
}

func checkReport(report *types.ClusterStatusReport) error {
	if report == nil || report.ClusterName == "" || !report.RunID.IsValid() {
		return ErrInvalidReport
	}
	return nil
}
