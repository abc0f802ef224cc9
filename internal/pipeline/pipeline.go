// Package pipeline orchestrates the analysis of one screen recording: audio
// extraction, transcription, enrichment, frame sampling, deduplication,
// per-frame vision analysis, cross-frame synthesis, and persistence. Stages
// run strictly in sequence; a stage failure moves the job to failed, while
// per-frame failures inside the analysis stage only skip that frame.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/dedup"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/media"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/progress"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/providers"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/sampler"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/storage"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/vision"
)

// Transcriber converts an audio file into a timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (models.Transcript, error)
}

// Analyzer runs text completions for enrichment, classification, and
// synthesis.
type Analyzer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
	CompleteJSON(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// FrameDescriber produces a description for one frame. Implementations must
// not fail; degraded results carry the fallback flag instead.
type FrameDescriber interface {
	Describe(ctx context.Context, frame models.SampledFrame, jc vision.JobContext) models.FrameDescription
}

// Media probes sources and extracts audio and frames.
type Media interface {
	Probe(ctx context.Context, path string) (media.ProbeInfo, error)
	ExtractAudio(ctx context.Context, path, outPath string) error
	ExtractFrameAt(ctx context.Context, path string, ts float64, outPath string) error
	ScanFrames(ctx context.Context, path string, rate float64, dir string) ([]string, error)
}

// FrameSampler picks candidate frames from a source.
type FrameSampler interface {
	Sample(ctx context.Context, src sampler.Source, duration float64, dir string, opts sampler.Options) ([]models.CandidateFrame, error)
}

// Fetcher downloads a remote source into the job's work directory and
// returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
}

// Store persists pipeline results.
type Store interface {
	UpdateJobStage(ctx context.Context, jobID string, stage models.Stage, errMsg string) error
	SetJobMedia(ctx context.Context, jobID string, durationSeconds float64, hasVideo bool) error
	StoreTranscript(ctx context.Context, jobID string, t models.Transcript, e models.Enrichment) error
	StoreFrame(ctx context.Context, rec storage.FrameRecord) error
	StoreAnalysis(ctx context.Context, jobID string, a models.Analysis) error
}

// Uploader pushes frame images to object storage.
type Uploader interface {
	UploadFrame(ctx context.Context, jobID, filePath string, frameIndex int) (string, error)
}

// Progress records human-readable stage progress.
type Progress interface {
	Info(ctx context.Context, jobID, message string)
	Warn(ctx context.Context, jobID, message string)
	Error(ctx context.Context, jobID, message string)
	Success(ctx context.Context, jobID, message string)
}

// Options tune pipeline behavior.
type Options struct {
	Sampling       sampler.Options
	DedupThreshold int
	// TranscriptWindow is the number of seconds of transcript pulled in on
	// each side of a frame's timestamp.
	TranscriptWindow float64
	// WorkDir is the base for per-job temp directories; empty uses the
	// system default.
	WorkDir string
}

// DefaultOptions returns the production pipeline parameters.
func DefaultOptions() Options {
	return Options{
		Sampling:         sampler.DefaultOptions(),
		DedupThreshold:   dedup.DefaultThreshold,
		TranscriptWindow: 5.0,
	}
}

// Deps are the pipeline's external collaborators. All of them are injected;
// the pipeline constructs nothing itself.
type Deps struct {
	Media       Media
	Fetcher     Fetcher
	Sampler     FrameSampler
	Transcriber Transcriber
	Analyzer    Analyzer
	Describer   FrameDescriber
	Store       Store
	Uploader    Uploader
	Progress    Progress
}

// Pipeline executes analysis jobs.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

func New(deps Deps, opts Options, log *slog.Logger) *Pipeline {
	return &Pipeline{deps: deps, opts: opts, log: log}
}

// frameSource binds Media to one path, giving the sampler its view of a
// single video.
type frameSource struct {
	media Media
	path  string
}

func (s frameSource) ExtractFrameAt(ctx context.Context, ts float64, outPath string) error {
	return s.media.ExtractFrameAt(ctx, s.path, ts, outPath)
}

func (s frameSource) ScanFrames(ctx context.Context, rate float64, dir string) ([]string, error) {
	return s.media.ScanFrames(ctx, s.path, rate, dir)
}

// frameSummary is the per-frame line fed into synthesis.
type frameSummary struct {
	Timestamp float64
	Summary   string
}

// Run executes the full pipeline for one job. A nil return means the job
// completed; any error means the job was moved to failed at the named stage.
// The per-job work directory is removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, payload models.JobPayload) error {
	log := p.log.With("job_id", payload.JobID)
	log.Info("pipeline started", "media_path", payload.MediaPath)

	workDir, err := os.MkdirTemp(p.opts.WorkDir, "pipeline-"+payload.JobID+"-")
	if err != nil {
		return p.fail(ctx, payload.JobID, models.StageExtractingAudio, fmt.Errorf("create work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	// Stage: extracting_audio. Probing happens here because duration and
	// stream layout steer every later stage.
	if err := p.setStage(ctx, payload.JobID, models.StageExtractingAudio); err != nil {
		return p.fail(ctx, payload.JobID, models.StageExtractingAudio, err)
	}
	p.deps.Progress.Info(ctx, payload.JobID, "probing source and extracting audio")

	// Remote sources are fetched into the work directory first; every later
	// stage reads the local copy.
	if media.IsRemote(payload.MediaPath) {
		if p.deps.Fetcher == nil {
			return p.fail(ctx, payload.JobID, models.StageExtractingAudio,
				fmt.Errorf("remote media is not supported by this worker"))
		}
		p.deps.Progress.Info(ctx, payload.JobID, "downloading remote media")
		local, err := p.deps.Fetcher.Fetch(ctx, payload.MediaPath, workDir)
		if err != nil {
			return p.fail(ctx, payload.JobID, models.StageExtractingAudio, err)
		}
		payload.MediaPath = local
	}

	info, err := p.deps.Media.Probe(ctx, payload.MediaPath)
	if err != nil {
		return p.fail(ctx, payload.JobID, models.StageExtractingAudio, err)
	}
	if err := p.deps.Store.SetJobMedia(ctx, payload.JobID, info.DurationSeconds, info.HasVideo); err != nil {
		return p.fail(ctx, payload.JobID, models.StageExtractingAudio, err)
	}
	log.Info("source probed",
		"duration", info.DurationSeconds,
		"has_video", info.HasVideo,
		"has_audio", info.HasAudio)

	audioPath := ""
	switch {
	case info.HasAudio && info.HasVideo:
		audioPath = filepath.Join(workDir, "audio.mp3")
		if err := p.deps.Media.ExtractAudio(ctx, payload.MediaPath, audioPath); err != nil {
			return p.fail(ctx, payload.JobID, models.StageExtractingAudio, err)
		}
	case info.HasAudio:
		// Audio-only sources feed the transcriber directly.
		audioPath = payload.MediaPath
	default:
		p.deps.Progress.Warn(ctx, payload.JobID, "source has no audio track, skipping transcription")
	}

	// Stage: transcribing.
	var transcript models.Transcript
	if audioPath != "" {
		if err := p.setStage(ctx, payload.JobID, models.StageTranscribing); err != nil {
			return p.fail(ctx, payload.JobID, models.StageTranscribing, err)
		}
		p.deps.Progress.Info(ctx, payload.JobID, "transcribing audio")
		transcript, err = p.deps.Transcriber.Transcribe(ctx, audioPath, payload.Language)
		if err != nil {
			return p.fail(ctx, payload.JobID, models.StageTranscribing, err)
		}
		log.Info("transcription complete", "segments", len(transcript.Segments))
	}

	// Stage: enriching. Enrichment is best-effort; its absence never fails
	// the job, but the transcript row itself must persist.
	if err := p.setStage(ctx, payload.JobID, models.StageEnriching); err != nil {
		return p.fail(ctx, payload.JobID, models.StageEnriching, err)
	}
	enrichment := p.enrich(ctx, payload, transcript, info.DurationSeconds)
	if enrichment.Enriched {
		p.deps.Progress.Info(ctx, payload.JobID,
			fmt.Sprintf("transcript enriched: %d topics, %d keywords", len(enrichment.Topics), len(enrichment.Keywords)))
	}
	if err := p.deps.Store.StoreTranscript(ctx, payload.JobID, transcript, enrichment); err != nil {
		return p.fail(ctx, payload.JobID, models.StageEnriching, err)
	}

	// Frame stages run only for sources with a video stream.
	var summaries []frameSummary
	if info.HasVideo {
		summaries, err = p.analyzeFrames(ctx, payload, info, workDir, transcript, enrichment)
		if err != nil {
			return err
		}
	}

	// Stage: synthesizing.
	if err := p.setStage(ctx, payload.JobID, models.StageSynthesizing); err != nil {
		return p.fail(ctx, payload.JobID, models.StageSynthesizing, err)
	}
	p.deps.Progress.Info(ctx, payload.JobID, "synthesizing cross-frame analysis")
	contentType := p.resolveContentType(ctx, payload, transcript, info.HasVideo)
	document, err := p.synthesize(ctx, contentType, payload, transcript, enrichment, summaries, info)
	if err != nil {
		return p.fail(ctx, payload.JobID, models.StageSynthesizing, err)
	}

	// Stage: persisting.
	if err := p.setStage(ctx, payload.JobID, models.StagePersisting); err != nil {
		return p.fail(ctx, payload.JobID, models.StagePersisting, err)
	}
	analysis := models.Analysis{ContentType: contentType, Document: document}
	if err := p.deps.Store.StoreAnalysis(ctx, payload.JobID, analysis); err != nil {
		return p.fail(ctx, payload.JobID, models.StagePersisting, err)
	}

	if err := p.setStage(ctx, payload.JobID, models.StageCompleted); err != nil {
		return p.fail(ctx, payload.JobID, models.StageCompleted, err)
	}
	p.deps.Progress.Success(ctx, payload.JobID, "analysis complete")
	log.Info("pipeline completed", "content_type", contentType, "frames", len(summaries))
	return nil
}

// analyzeFrames runs the sampling, deduplicating, and analyzing_frames
// stages and returns the summaries of successfully analyzed frames.
func (p *Pipeline) analyzeFrames(ctx context.Context, payload models.JobPayload, info media.ProbeInfo, workDir string, transcript models.Transcript, enrichment models.Enrichment) ([]frameSummary, error) {
	log := p.log.With("job_id", payload.JobID)

	// Stage: sampling_frames.
	if err := p.setStage(ctx, payload.JobID, models.StageSamplingFrames); err != nil {
		return nil, p.fail(ctx, payload.JobID, models.StageSamplingFrames, err)
	}
	p.deps.Progress.Info(ctx, payload.JobID, "sampling candidate frames")

	src := frameSource{media: p.deps.Media, path: payload.MediaPath}
	framesDir := filepath.Join(workDir, "frames")
	candidates, err := p.deps.Sampler.Sample(ctx, src, info.DurationSeconds, framesDir, p.opts.Sampling)
	if err != nil {
		return nil, p.fail(ctx, payload.JobID, models.StageSamplingFrames, err)
	}
	p.deps.Progress.Info(ctx, payload.JobID, fmt.Sprintf("sampled %d candidate frames", len(candidates)))

	// Stage: deduplicating.
	if err := p.setStage(ctx, payload.JobID, models.StageDeduplicating); err != nil {
		return nil, p.fail(ctx, payload.JobID, models.StageDeduplicating, err)
	}
	unique, removed := dedup.Deduplicate(log, candidates, p.opts.DedupThreshold)
	p.deps.Progress.Info(ctx, payload.JobID,
		fmt.Sprintf("%d frames kept after deduplication, %d removed", len(unique), removed))

	// Stage: analyzing_frames. Frames are processed strictly in time order
	// so each analysis can see the previous frame's summary. A failure on
	// one frame skips that frame only.
	if err := p.setStage(ctx, payload.JobID, models.StageAnalyzingFrames); err != nil {
		return nil, p.fail(ctx, payload.JobID, models.StageAnalyzingFrames, err)
	}

	jc := vision.JobContext{
		Domain:   payload.Context,
		Keywords: limitKeywords(enrichment.Keywords),
	}

	var summaries []frameSummary
	previousDescription := ""
	for i, cand := range unique {
		if ctx.Err() != nil {
			return nil, p.fail(ctx, payload.JobID, models.StageAnalyzingFrames, ctx.Err())
		}

		frame := models.SampledFrame{
			CandidateFrame:   cand,
			TranscriptWindow: transcript.WindowAround(cand.TimestampSeconds, p.opts.TranscriptWindow),
			TopicsInWindow:   enrichment.TopicsAt(cand.TimestampSeconds),
			ContinuityHint:   previousDescription,
		}

		desc := p.deps.Describer.Describe(ctx, frame, jc)
		// The next frame continues from this description even when upload or
		// persistence skips the current one.
		previousDescription = desc.Document
		summary := vision.ExtractSummary(desc.Document)

		url, err := p.deps.Uploader.UploadFrame(ctx, payload.JobID, cand.Image.Path, cand.FrameIndex)
		if err != nil {
			log.Warn("frame upload failed, skipping frame", "frame", cand.FrameIndex, "error", err)
			p.deps.Progress.Warn(ctx, payload.JobID,
				fmt.Sprintf("frame %d at %s skipped: %v", cand.FrameIndex, models.FormatTimestamp(cand.TimestampSeconds), err))
			continue
		}

		rec := storage.FrameRecord{
			FrameID:          models.NewFrameID(),
			JobID:            payload.JobID,
			FrameIndex:       cand.FrameIndex,
			TimestampSeconds: cand.TimestampSeconds,
			Method:           cand.Method,
			SceneChangeScore: cand.SceneChangeScore,
			StorageURL:       url,
			Description:      desc.Document,
			Summary:          summary,
			Fallback:         desc.Fallback,
		}
		if err := p.deps.Store.StoreFrame(ctx, rec); err != nil {
			log.Warn("frame persistence failed, skipping frame", "frame", cand.FrameIndex, "error", err)
			p.deps.Progress.Warn(ctx, payload.JobID,
				fmt.Sprintf("frame %d at %s skipped: %v", cand.FrameIndex, models.FormatTimestamp(cand.TimestampSeconds), err))
			continue
		}

		summaries = append(summaries, frameSummary{Timestamp: cand.TimestampSeconds, Summary: summary})
		p.deps.Progress.Info(ctx, payload.JobID,
			fmt.Sprintf("frame %d/%d analyzed (%s)", i+1, len(unique), models.FormatTimestamp(cand.TimestampSeconds)))
	}

	if len(unique) > 0 && len(summaries) == 0 {
		log.Warn("no frame survived analysis, synthesis will use transcript only")
	}
	return summaries, nil
}

func (p *Pipeline) setStage(ctx context.Context, jobID string, stage models.Stage) error {
	return p.deps.Store.UpdateJobStage(ctx, jobID, stage, "")
}

// fail records the stage failure on the job and returns the wrapped error
// that the queue layer reports.
func (p *Pipeline) fail(ctx context.Context, jobID string, stage models.Stage, err error) error {
	p.log.Error("stage failed", "job_id", jobID, "stage", stage, "error", err)
	p.deps.Progress.Error(ctx, jobID, fmt.Sprintf("%s failed: %v", stage, err))
	if uerr := p.deps.Store.UpdateJobStage(ctx, jobID, models.StageFailed, err.Error()); uerr != nil {
		p.log.Error("could not mark job failed", "job_id", jobID, "error", uerr)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func limitKeywords(keywords []string) []string {
	if len(keywords) > 15 {
		return keywords[:15]
	}
	return keywords
}

// Interface checks for the production wiring.
var (
	_ Media          = (*media.FFmpeg)(nil)
	_ Fetcher        = (*media.Downloader)(nil)
	_ FrameSampler   = (*sampler.Sampler)(nil)
	_ Transcriber    = (*providers.Client)(nil)
	_ Analyzer       = (*providers.Client)(nil)
	_ FrameDescriber = (*vision.Machine)(nil)
	_ Store          = (*storage.Store)(nil)
	_ Uploader       = (*storage.Objects)(nil)
	_ Progress       = (*progress.Recorder)(nil)
)
