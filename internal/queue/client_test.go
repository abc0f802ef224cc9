package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobStore struct {
	created   []models.JobPayload
	createErr error
	job       models.PipelineJob
	jobErr    error
	progress  []models.ProgressEntry
	resets    []string
	appended  []models.ProgressEntry
}

func (s *fakeJobStore) CreateJob(_ context.Context, payload models.JobPayload) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, payload)
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, _ string) (models.PipelineJob, error) {
	if s.jobErr != nil {
		return models.PipelineJob{}, s.jobErr
	}
	return s.job, nil
}

func (s *fakeJobStore) GetProgress(_ context.Context, _ string) ([]models.ProgressEntry, error) {
	return s.progress, nil
}

func (s *fakeJobStore) ResetJob(_ context.Context, jobID string) error {
	s.resets = append(s.resets, jobID)
	return nil
}

func (s *fakeJobStore) AppendProgress(_ context.Context, _ string, entry models.ProgressEntry) error {
	s.appended = append(s.appended, entry)
	return nil
}

type enqueuedTask struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	tasks []enqueuedTask
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, enqueuedTask{task: task, opts: opts})
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func newTestClient(store *fakeJobStore, enq *fakeEnqueuer) *Client {
	return &Client{enq: enq, store: store, log: testLogger()}
}

func optionValue(t *testing.T, opts []asynq.Option, typ asynq.OptionType) interface{} {
	t.Helper()
	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value()
		}
	}
	t.Fatalf("option %v not set", typ)
	return nil
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	jobID, err := client.Submit(context.Background(), SubmitRequest{
		MediaPath:    "/data/demo.mp4",
		Context:      "CRM walkthrough for the sales team",
		AnalysisMode: "auto",
		Language:     "en",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job ID")
	}
	if len(store.created) != 1 || store.created[0].JobID != jobID {
		t.Fatalf("job row not created before enqueue: %+v", store.created)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enq.tasks))
	}

	task := enq.tasks[0]
	if task.task.Type() != TaskProcess {
		t.Errorf("task type = %q, want %q", task.task.Type(), TaskProcess)
	}
	var payload models.JobPayload
	if err := json.Unmarshal(task.task.Payload(), &payload); err != nil {
		t.Fatalf("payload did not round-trip: %v", err)
	}
	if payload.JobID != jobID || payload.MediaPath != "/data/demo.mp4" || payload.Language != "en" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if got := optionValue(t, task.opts, asynq.QueueOpt); got != QueueDefault {
		t.Errorf("queue = %v, want %q", got, QueueDefault)
	}
	if got := optionValue(t, task.opts, asynq.MaxRetryOpt); got != 0 {
		t.Errorf("max retry = %v, want 0", got)
	}
}

func TestSubmitHonorsQueueSelection(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	if _, err := client.Submit(context.Background(), SubmitRequest{
		MediaPath: "/data/demo.mp4",
		Queue:     QueueCritical,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := optionValue(t, enq.tasks[0].opts, asynq.QueueOpt); got != QueueCritical {
		t.Errorf("queue = %v, want %q", got, QueueCritical)
	}
}

func TestSubmitRequiresMediaPath(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	if _, err := client.Submit(context.Background(), SubmitRequest{}); err == nil {
		t.Fatal("expected error for empty media path")
	}
	if len(store.created) != 0 || len(enq.tasks) != 0 {
		t.Error("nothing should be created or enqueued")
	}
}

func TestSubmitStopsWhenJobRowFails(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{createErr: errors.New("postgres down")}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	if _, err := client.Submit(context.Background(), SubmitRequest{MediaPath: "/data/demo.mp4"}); err == nil {
		t.Fatal("expected error when the job row cannot be created")
	}
	if len(enq.tasks) != 0 {
		t.Error("task must not be enqueued without a job row")
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	t.Parallel()

	for _, stage := range []models.Stage{models.StagePending, models.StageTranscribing, models.StageCompleted} {
		store := &fakeJobStore{job: models.PipelineJob{JobID: "j1", Stage: stage}}
		enq := &fakeEnqueuer{}
		client := newTestClient(store, enq)

		err := client.Retry(context.Background(), "j1")
		if err == nil {
			t.Fatalf("stage %s: expected retry to be rejected", stage)
		}
		if len(store.resets) != 0 || len(enq.tasks) != 0 {
			t.Errorf("stage %s: job must stay untouched", stage)
		}
	}
}

func TestRetryRestartsFailedJob(t *testing.T) {
	t.Parallel()

	mediaPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(mediaPath, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &fakeJobStore{job: models.PipelineJob{
		JobID:        "j1",
		MediaPath:    mediaPath,
		Context:      "sprint review",
		AnalysisMode: "meeting",
		Language:     "de",
		Stage:        models.StageFailed,
		Error:        "transcription failed: timeout",
	}}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	if err := client.Retry(context.Background(), "j1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(store.resets) != 1 || store.resets[0] != "j1" {
		t.Fatalf("partial results not cleared: %v", store.resets)
	}
	if len(store.appended) != 1 || store.appended[0].Level != models.LevelInfo {
		t.Fatalf("expected one retry progress entry, got %+v", store.appended)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("expected 1 re-enqueued task, got %d", len(enq.tasks))
	}
	var payload models.JobPayload
	if err := json.Unmarshal(enq.tasks[0].task.Payload(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.JobID != "j1" || payload.Context != "sprint review" || payload.AnalysisMode != "meeting" {
		t.Errorf("original submission parameters not preserved: %+v", payload)
	}
}

func TestRetryRejectsMissingMedia(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{job: models.PipelineJob{
		JobID:     "j1",
		MediaPath: filepath.Join(t.TempDir(), "gone.mp4"),
		Stage:     models.StageFailed,
	}}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	err := client.Retry(context.Background(), "j1")
	if !errors.Is(err, models.ErrSourceUnreadable) {
		t.Fatalf("err = %v, want ErrSourceUnreadable", err)
	}
	if len(store.resets) != 0 || len(enq.tasks) != 0 {
		t.Error("job must stay untouched when the media file is gone")
	}
}

func TestRetryRemoteMediaSkipsFileCheck(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{job: models.PipelineJob{
		JobID:     "j1",
		MediaPath: "https://example.com/videos/demo.mp4",
		Stage:     models.StageFailed,
	}}
	enq := &fakeEnqueuer{}
	client := newTestClient(store, enq)

	if err := client.Retry(context.Background(), "j1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(enq.tasks) != 1 {
		t.Fatal("remote media should be retryable without a local file")
	}
}

func TestGetStatusIncludesProgressLog(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{
		job: models.PipelineJob{JobID: "j1", Stage: models.StageFailed, Error: "frame sampling failed"},
		progress: []models.ProgressEntry{
			{Level: models.LevelInfo, Message: "extracting audio track"},
			{Level: models.LevelError, Message: "frame sampling failed"},
		},
	}
	client := newTestClient(store, &fakeEnqueuer{})

	status, err := client.GetStatus(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Stage != models.StageFailed || status.Error == "" {
		t.Errorf("unexpected status: %+v", status)
	}
	if len(status.Progress) != 2 {
		t.Errorf("progress log = %d entries, want 2", len(status.Progress))
	}
}
