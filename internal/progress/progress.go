// Package progress records human-readable pipeline progress. Every entry is
// appended to the job's database log and published to a per-job Redis stream
// for live consumers. The log is advisory: recording failures are logged and
// swallowed, never surfaced to the pipeline.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// Sink is the durable side of the progress log.
type Sink interface {
	AppendProgress(ctx context.Context, jobID string, entry models.ProgressEntry) error
}

// streamMaxLen bounds each per-job Redis stream; trimming is approximate
// for performance.
const streamMaxLen = 1000

// Recorder fans progress entries out to the database and Redis.
type Recorder struct {
	sink Sink
	rdb  *redis.Client
	log  *slog.Logger
}

// NewRecorder builds a recorder. rdb may be nil, in which case entries are
// only written to the sink.
func NewRecorder(sink Sink, rdb *redis.Client, log *slog.Logger) *Recorder {
	return &Recorder{sink: sink, rdb: rdb, log: log}
}

// ConnectRedis opens and verifies a Redis connection from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func (r *Recorder) Info(ctx context.Context, jobID, message string) {
	r.record(ctx, jobID, models.LevelInfo, message)
}

func (r *Recorder) Warn(ctx context.Context, jobID, message string) {
	r.record(ctx, jobID, models.LevelWarning, message)
}

func (r *Recorder) Error(ctx context.Context, jobID, message string) {
	r.record(ctx, jobID, models.LevelError, message)
}

func (r *Recorder) Success(ctx context.Context, jobID, message string) {
	r.record(ctx, jobID, models.LevelSuccess, message)
}

func (r *Recorder) record(ctx context.Context, jobID, level, message string) {
	entry := models.ProgressEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}

	if err := r.sink.AppendProgress(ctx, jobID, entry); err != nil {
		r.log.Warn("progress entry not persisted", "job_id", jobID, "error", err)
	}

	if r.rdb == nil {
		return
	}
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(jobID),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"ts":      entry.Timestamp.Format(time.RFC3339),
			"level":   entry.Level,
			"message": entry.Message,
		},
	}).Err()
	if err != nil {
		r.log.Warn("progress entry not published", "job_id", jobID, "error", err)
	}
}

// StreamKey returns the Redis stream carrying a job's progress entries.
func StreamKey(jobID string) string {
	return "pipeline:progress:" + jobID
}
