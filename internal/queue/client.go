package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/media"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// jobTimeout bounds a wedged task so a dead worker slot is eventually
// reclaimed. Long recordings with many frames stay well under it.
const jobTimeout = 3 * time.Hour

// JobStore is the persistence the client needs around enqueueing.
type JobStore interface {
	CreateJob(ctx context.Context, payload models.JobPayload) error
	GetJob(ctx context.Context, jobID string) (models.PipelineJob, error)
	GetProgress(ctx context.Context, jobID string) ([]models.ProgressEntry, error)
	ResetJob(ctx context.Context, jobID string) error
	AppendProgress(ctx context.Context, jobID string, entry models.ProgressEntry) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits, retries and inspects pipeline jobs.
type Client struct {
	enq   enqueuer
	store JobStore
	log   *slog.Logger
}

// NewClient creates a queue client over the given Redis instance.
func NewClient(redisURL string, store JobStore, log *slog.Logger) (*Client, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Client{enq: asynq.NewClient(redisOpt), store: store, log: log}, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error { return c.enq.Close() }

// SubmitRequest describes a new analysis job.
type SubmitRequest struct {
	MediaPath    string
	Context      string
	AnalysisMode string
	Language     string
	Queue        string
}

// Submit registers the job at stage pending and enqueues it. Returns the
// generated job ID.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.MediaPath == "" {
		return "", fmt.Errorf("media path must not be empty")
	}

	payload := models.JobPayload{
		JobID:        models.NewJobID(),
		MediaPath:    req.MediaPath,
		Context:      req.Context,
		AnalysisMode: req.AnalysisMode,
		Language:     req.Language,
	}
	if err := c.store.CreateJob(ctx, payload); err != nil {
		return "", err
	}
	if err := c.enqueue(ctx, payload, req.Queue); err != nil {
		return "", err
	}
	c.log.Info("job submitted", "job_id", payload.JobID, "media_path", payload.MediaPath)
	return payload.JobID, nil
}

// Retry re-enqueues a failed job from the top. Partial results are cleared;
// the progress log is kept so the earlier failure stays visible.
func (c *Client) Retry(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage != models.StageFailed {
		return fmt.Errorf("job %s is %s; only failed jobs can be retried", jobID, job.Stage)
	}
	if !media.IsRemote(job.MediaPath) {
		if _, err := os.Stat(job.MediaPath); err != nil {
			return fmt.Errorf("%w: media file no longer exists: %s", models.ErrSourceUnreadable, job.MediaPath)
		}
	}

	if err := c.store.ResetJob(ctx, jobID); err != nil {
		return err
	}
	entry := models.ProgressEntry{
		Timestamp: time.Now().UTC(),
		Level:     models.LevelInfo,
		Message:   "retry requested, restarting from the beginning",
	}
	if err := c.store.AppendProgress(ctx, jobID, entry); err != nil {
		c.log.Warn("retry progress entry not persisted", "job_id", jobID, "error", err)
	}

	payload := models.JobPayload{
		JobID:        job.JobID,
		MediaPath:    job.MediaPath,
		Context:      job.Context,
		AnalysisMode: job.AnalysisMode,
		Language:     job.Language,
	}
	if err := c.enqueue(ctx, payload, QueueDefault); err != nil {
		return err
	}
	c.log.Info("job re-enqueued", "job_id", jobID)
	return nil
}

// Status is a job's externally visible state.
type Status struct {
	JobID       string                 `json:"job_id"`
	Stage       models.Stage           `json:"stage"`
	Error       string                 `json:"error,omitempty"`
	MediaPath   string                 `json:"media_path"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Progress    []models.ProgressEntry `json:"progress"`
}

// GetStatus reports the job's current stage, its error if it failed, and the
// accumulated progress log.
func (c *Client) GetStatus(ctx context.Context, jobID string) (Status, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	entries, err := c.store.GetProgress(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		JobID:       job.JobID,
		Stage:       job.Stage,
		Error:       job.Error,
		MediaPath:   job.MediaPath,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		Progress:    entries,
	}, nil
}

func (c *Client) enqueue(ctx context.Context, payload models.JobPayload, queueName string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	if queueName == "" {
		queueName = QueueDefault
	}
	task := asynq.NewTask(TaskProcess, body)
	// MaxRetry 0: a failed job stays failed until someone asks for a retry.
	// No asynq.TaskID either; archived failures would otherwise collide with
	// the re-enqueued task.
	_, err = c.enq.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(jobTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return nil
}
