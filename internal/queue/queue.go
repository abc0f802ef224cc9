// Package queue connects the pipeline to its Redis-backed task queue. The
// server side consumes analysis tasks on a worker pool; the client side
// enqueues them for submit and retry and answers status lookups.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// TaskProcess is the task type carrying one pipeline job.
const TaskProcess = "pipeline:process"

// Queue names with their scheduling weights. Submits land on the default
// queue; the critical queue lets operators push urgent jobs ahead without
// starving the rest.
const (
	QueueCritical = "pipeline:critical"
	QueueDefault  = "pipeline:default"
	QueueLow      = "pipeline:low"
)

func queueWeights() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

// Runner executes one pipeline job from start to terminal stage.
type Runner interface {
	Run(ctx context.Context, payload models.JobPayload) error
}

// ServerConfig holds consumer configuration.
type ServerConfig struct {
	RedisURL    string
	Concurrency int
}

// Server consumes pipeline jobs from Redis. Jobs across workers run
// concurrently; each job's stages run sequentially inside its task.
type Server struct {
	server *asynq.Server
	runner Runner
	log    *slog.Logger
}

// NewServer creates the queue consumer. The queue never auto-retries a
// failed job: tasks are enqueued with MaxRetry 0 and recovery is an explicit
// retry request, so the server carries no retry delay policy.
func NewServer(cfg ServerConfig, runner Runner, log *slog.Logger) (*Server, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queueWeights(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	return &Server{server: server, runner: runner, log: log}, nil
}

// Start registers the task handler and serves until Shutdown.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcess, s.handleProcess)

	s.log.Info("queue server starting")
	if err := s.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}
	return nil
}

// Shutdown stops the consumer gracefully, waiting for in-flight jobs.
func (s *Server) Shutdown() {
	s.log.Info("queue server shutting down")
	s.server.Shutdown()
}

func (s *Server) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload models.JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	s.log.Info("job received", "job_id", payload.JobID, "media_path", payload.MediaPath)
	// The job row already records any failure; returning the error archives
	// the task for queue-side inspection without re-running it.
	if err := s.runner.Run(ctx, payload); err != nil {
		return err
	}
	s.log.Info("job finished", "job_id", payload.JobID)
	return nil
}
