package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/williamhogman/sparkmesh/internal/types"
)

const defaultKeyPrefix = "sparkmesh:report:"

// redisStore implements ReportStore using Redis
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	limit     int
}

// newRedisClient creates a Redis client from a redis:// URI
func newRedisClient(redisURI string) (*redis.Client, error) {
	if redisURI == "" {
		return nil, errors.New("redis URI is required")
	}
	opts, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URI: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newRedisStore creates a Redis-backed report store
func newRedisStore(client *redis.Client, keyPrefix string, limit int) (*redisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &redisStore{client: client, keyPrefix: keyPrefix, limit: limit}, nil
}

// formRunKey creates a Redis key for one run of a cluster
func (r *redisStore) formRunKey(clusterName string, runID types.RunID) string {
	return r.keyPrefix + clusterName + ":run:" + runID.String()
}

// formHistoryKey creates a Redis key for the newest-first run list of a cluster
func (r *redisStore) formHistoryKey(clusterName string) string {
	return r.keyPrefix + clusterName + ":history"
}

func (r *redisStore) Save(ctx context.Context, report *types.ClusterStatusReport) error {
	if err := checkReport(report); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.RunID, err)
	}

	historyKey := r.formHistoryKey(report.ClusterName)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.formRunKey(report.ClusterName, report.RunID), data, 0)
	// Move the run to the head of the history without duplicating it
	pipe.LRem(ctx, historyKey, 0, report.RunID.String())
	pipe.LPush(ctx, historyKey, report.RunID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.RunID, err)
	}

	if r.limit > 0 {
		return r.prune(ctx, report.ClusterName)
	}
	return nil
}

func (r *redisStore) prune(ctx context.Context, clusterName string) error {
	historyKey := r.formHistoryKey(clusterName)
	stale, err := r.client.LRange(ctx, historyKey, int64(r.limit), -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read history for %s: %w", clusterName, err)
	}
	if len(stale) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, id := range stale {
		pipe.Del(ctx, r.formRunKey(clusterName, types.RunID(id)))
	}
	pipe.LTrim(ctx, historyKey, 0, int64(r.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prune history for %s: %w", clusterName, err)
	}
	return nil
}

func (r *redisStore) Latest(ctx context.Context, clusterName string) (*types.ClusterStatusReport, error) {
	id, err := r.client.LIndex(ctx, r.formHistoryKey(clusterName), 0).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest run for %s: %w", clusterName, err)
	}
	return r.Get(ctx, clusterName, types.RunID(id))
}

func (r *redisStore) Get(ctx context.Context, clusterName string, runID types.RunID) (*types.ClusterStatusReport, error) {
	data, err := r.client.Get(ctx, r.formRunKey(clusterName, runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	var report types.ClusterStatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &report, nil
}

func (r *redisStore) History(ctx context.Context, clusterName string, limit int) ([]types.RunID, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.LRange(ctx, r.formHistoryKey(clusterName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", clusterName, err)
	}

	out := make([]types.RunID, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.RunID(id))
	}
	return out, nil
}

// Close is a no-op; the client is owned by whoever created it
func (r *redisStore) Close() error {
	return nil
}
