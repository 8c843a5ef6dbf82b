package job

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records a job's latest stage and percentage in a sink the rest of
// the application polls (job status endpoints, admin views). The pipeline only
// writes to it.
type Tracker interface {
	Update(ctx context.Context, jobID, stage string, progress int) error
}

// NoopTracker discards updates. Useful for tests and tools.
type NoopTracker struct{}

// Update implements Tracker.
func (NoopTracker) Update(context.Context, string, string, int) error { return nil }

// trackTTL bounds how long finished job state lingers in Redis.
const trackTTL = 24 * time.Hour

// RedisTracker stores job state in a Redis hash at job:track:<jobId>.
type RedisTracker struct {
	rdb *redis.Client
}

// NewRedisTracker creates a tracker over an existing Redis connection.
func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

// Update implements Tracker.
func (t *RedisTracker) Update(ctx context.Context, jobID, stage string, progress int) error {
	key := "job:track:" + jobID
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(StatusForStage(stage)),
		"stage", stage,
		"progress", progress,
		"updatedAt", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, trackTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track job %s: %w", jobID, err)
	}
	return nil
}
