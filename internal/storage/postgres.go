// Package storage persists pipeline results to PostgreSQL and uploads frame
// images to S3-compatible object storage.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// FrameRecord is one analyzed frame as persisted.
type FrameRecord struct {
	FrameID          string
	JobID            string
	FrameIndex       int
	TimestampSeconds float64
	Method           models.ExtractionMethod
	SceneChangeScore float64
	StorageURL       string
	Description      string
	Summary          string
	Fallback         bool
}

// Store handles all PostgreSQL operations for the pipeline.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New connects to PostgreSQL, configures the pool, and ensures the schema
// exists.
func New(postgresURL string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates tables and indexes if they don't exist. Index creation
// is issued statement by statement so each stays idempotent.
func (s *Store) initSchema() error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS pipeline;

	-- Analysis jobs
	CREATE TABLE IF NOT EXISTS pipeline.jobs (
		job_id VARCHAR(64) PRIMARY KEY,
		media_path TEXT NOT NULL,
		context TEXT,
		analysis_mode VARCHAR(50) NOT NULL,
		language VARCHAR(16),
		stage VARCHAR(50) NOT NULL,
		error TEXT,
		duration_seconds FLOAT,
		has_video BOOLEAN,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	-- Transcript plus enrichment, one row per job
	CREATE TABLE IF NOT EXISTS pipeline.transcripts (
		job_id VARCHAR(64) PRIMARY KEY REFERENCES pipeline.jobs(job_id) ON DELETE CASCADE,
		full_text TEXT,
		segments JSONB,
		language VARCHAR(16),
		enrichment JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Analyzed frames that survived deduplication
	CREATE TABLE IF NOT EXISTS pipeline.frames (
		frame_id VARCHAR(64) PRIMARY KEY,
		job_id VARCHAR(64) NOT NULL REFERENCES pipeline.jobs(job_id) ON DELETE CASCADE,
		frame_index INT NOT NULL,
		timestamp_seconds FLOAT NOT NULL,
		extraction_method VARCHAR(32) NOT NULL,
		scene_change_score FLOAT,
		storage_url TEXT,
		description TEXT,
		summary TEXT,
		fallback BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Cross-frame synthesis, one row per job
	CREATE TABLE IF NOT EXISTS pipeline.analyses (
		job_id VARCHAR(64) PRIMARY KEY REFERENCES pipeline.jobs(job_id) ON DELETE CASCADE,
		content_type VARCHAR(50),
		document TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only progress log; advisory, never read by control flow
	CREATE TABLE IF NOT EXISTS pipeline.progress_log (
		id SERIAL PRIMARY KEY,
		job_id VARCHAR(64) NOT NULL REFERENCES pipeline.jobs(job_id) ON DELETE CASCADE,
		ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		level VARCHAR(16) NOT NULL,
		message TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_stage ON pipeline.jobs(stage)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON pipeline.jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_job_id ON pipeline.frames(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON pipeline.frames(timestamp_seconds)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_job_id ON pipeline.progress_log(job_id)`,
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

// CreateJob registers a submitted job in the pending stage.
func (s *Store) CreateJob(ctx context.Context, payload models.JobPayload) error {
	query := `
		INSERT INTO pipeline.jobs (job_id, media_path, context, analysis_mode, language, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			media_path = EXCLUDED.media_path,
			context = EXCLUDED.context,
			analysis_mode = EXCLUDED.analysis_mode,
			language = EXCLUDED.language,
			stage = EXCLUDED.stage
	`
	_, err := s.db.ExecContext(ctx, query,
		payload.JobID,
		payload.MediaPath,
		payload.Context,
		payload.AnalysisMode,
		payload.Language,
		models.StagePending,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create job: %w", models.ErrPersistence, err)
	}
	return nil
}

// UpdateJobStage advances the job's stage marker. The first transition out
// of pending stamps started_at; terminal stages stamp completed_at.
func (s *Store) UpdateJobStage(ctx context.Context, jobID string, stage models.Stage, errMsg string) error {
	query := `
		UPDATE pipeline.jobs
		SET stage = $2,
			error = $3,
			started_at = CASE WHEN started_at IS NULL AND $2 <> 'pending' THEN CURRENT_TIMESTAMP ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE job_id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, stage, errMsg)
	if err != nil {
		return fmt.Errorf("%w: failed to update job stage: %w", models.ErrPersistence, err)
	}
	return nil
}

// SetJobMedia records probed media properties on the job row.
func (s *Store) SetJobMedia(ctx context.Context, jobID string, durationSeconds float64, hasVideo bool) error {
	query := `UPDATE pipeline.jobs SET duration_seconds = $2, has_video = $3 WHERE job_id = $1`
	_, err := s.db.ExecContext(ctx, query, jobID, durationSeconds, hasVideo)
	if err != nil {
		return fmt.Errorf("%w: failed to set job media info: %w", models.ErrPersistence, err)
	}
	return nil
}

// StoreTranscript upserts the transcript and its enrichment for a job.
func (s *Store) StoreTranscript(ctx context.Context, jobID string, t models.Transcript, e models.Enrichment) error {
	segmentsJSON, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}
	enrichmentJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment: %w", err)
	}

	query := `
		INSERT INTO pipeline.transcripts (job_id, full_text, segments, language, enrichment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			full_text = EXCLUDED.full_text,
			segments = EXCLUDED.segments,
			language = EXCLUDED.language,
			enrichment = EXCLUDED.enrichment
	`
	_, err = s.db.ExecContext(ctx, query, jobID, t.FullText, segmentsJSON, t.Language, enrichmentJSON)
	if err != nil {
		return fmt.Errorf("%w: failed to store transcript: %w", models.ErrPersistence, err)
	}
	return nil
}

// StoreFrame persists one analyzed frame.
func (s *Store) StoreFrame(ctx context.Context, rec FrameRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", models.ErrPersistence, err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pipeline.frames (frame_id, job_id, frame_index, timestamp_seconds, extraction_method, scene_change_score, storage_url, description, summary, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (frame_id) DO UPDATE SET
			storage_url = EXCLUDED.storage_url,
			description = EXCLUDED.description,
			summary = EXCLUDED.summary,
			fallback = EXCLUDED.fallback
	`
	_, err = tx.ExecContext(ctx, query,
		rec.FrameID,
		rec.JobID,
		rec.FrameIndex,
		rec.TimestampSeconds,
		rec.Method,
		rec.SceneChangeScore,
		rec.StorageURL,
		rec.Description,
		rec.Summary,
		rec.Fallback,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to store frame: %w", models.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit frame: %w", models.ErrPersistence, err)
	}
	return nil
}

// StoreAnalysis upserts the synthesized cross-frame analysis for a job.
func (s *Store) StoreAnalysis(ctx context.Context, jobID string, a models.Analysis) error {
	query := `
		INSERT INTO pipeline.analyses (job_id, content_type, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			document = EXCLUDED.document
	`
	_, err := s.db.ExecContext(ctx, query, jobID, a.ContentType, a.Document)
	if err != nil {
		return fmt.Errorf("%w: failed to store analysis: %w", models.ErrPersistence, err)
	}
	return nil
}

// AppendProgress adds one entry to the job's progress log.
func (s *Store) AppendProgress(ctx context.Context, jobID string, entry models.ProgressEntry) error {
	query := `INSERT INTO pipeline.progress_log (job_id, ts, level, message) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, jobID, entry.Timestamp, entry.Level, entry.Message)
	if err != nil {
		return fmt.Errorf("%w: failed to append progress: %w", models.ErrPersistence, err)
	}
	return nil
}

// ResetJob clears all partial results for a job and returns it to the
// pending stage. The progress log is kept; retries append to it.
func (s *Store) ResetJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", models.ErrPersistence, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM pipeline.transcripts WHERE job_id = $1`,
		`DELETE FROM pipeline.frames WHERE job_id = $1`,
		`DELETE FROM pipeline.analyses WHERE job_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, jobID); err != nil {
			return fmt.Errorf("%w: failed to clear job results: %w", models.ErrPersistence, err)
		}
	}

	reset := `
		UPDATE pipeline.jobs
		SET stage = 'pending', error = '', started_at = NULL, completed_at = NULL
		WHERE job_id = $1
	`
	if _, err := tx.ExecContext(ctx, reset, jobID); err != nil {
		return fmt.Errorf("%w: failed to reset job: %w", models.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit reset: %w", models.ErrPersistence, err)
	}
	return nil
}

// GetJob loads a job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (models.PipelineJob, error) {
	query := `
		SELECT job_id, media_path, context, analysis_mode, language, stage, error,
			duration_seconds, has_video, created_at, started_at, completed_at
		FROM pipeline.jobs
		WHERE job_id = $1
	`

	var (
		job         models.PipelineJob
		jobContext  sql.NullString
		language    sql.NullString
		stage       string
		errMsg      sql.NullString
		duration    sql.NullFloat64
		hasVideo    sql.NullBool
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.MediaPath,
		&jobContext,
		&job.AnalysisMode,
		&language,
		&stage,
		&errMsg,
		&duration,
		&hasVideo,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PipelineJob{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return models.PipelineJob{}, fmt.Errorf("failed to load job: %w", err)
	}

	job.Context = jobContext.String
	job.Language = language.String
	job.Stage = models.Stage(stage)
	job.Error = errMsg.String
	job.DurationSeconds = duration.Float64
	job.HasVideo = hasVideo.Bool
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// GetProgress returns the job's progress log in append order.
func (s *Store) GetProgress(ctx context.Context, jobID string) ([]models.ProgressEntry, error) {
	query := `SELECT ts, level, message FROM pipeline.progress_log WHERE job_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	var entries []models.ProgressEntry
	for rows.Next() {
		var e models.ProgressEntry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
