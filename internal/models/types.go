package models

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/google/uuid"

	_ "image/jpeg"
	_ "image/png"
)

// JobPayload is the task body enqueued for one pipeline job.
type JobPayload struct {
	JobID        string `json:"job_id"`
	MediaPath    string `json:"media_path"`
	Context      string `json:"context,omitempty"`
	AnalysisMode string `json:"analysis_mode,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Stage is one phase of the pipeline state machine. A job moves through the
// stages strictly in order; completed and failed are terminal.
type Stage string

const (
	StagePending         Stage = "pending"
	StageExtractingAudio Stage = "extracting_audio"
	StageTranscribing    Stage = "transcribing"
	StageEnriching       Stage = "enriching"
	StageSamplingFrames  Stage = "sampling_frames"
	StageDeduplicating   Stage = "deduplicating"
	StageAnalyzingFrames Stage = "analyzing_frames"
	StageSynthesizing    Stage = "synthesizing"
	StagePersisting      Stage = "persisting"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Terminal reports whether the stage ends the job's lifecycle.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Progress log levels.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
	LevelSuccess = "SUCCESS"
)

// ProgressEntry is one append-only progress log line. Advisory only; control
// flow never reads it back.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// PipelineJob is the orchestration record for one media file.
type PipelineJob struct {
	JobID           string     `json:"job_id"`
	MediaPath       string     `json:"media_path"`
	Context         string     `json:"context,omitempty"`
	AnalysisMode    string     `json:"analysis_mode,omitempty"`
	Language        string     `json:"language,omitempty"`
	Stage           Stage      `json:"stage"`
	Error           string     `json:"error,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	HasVideo        bool       `json:"has_video"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ExtractionMethod records which sampling pass produced a candidate frame.
type ExtractionMethod string

const (
	MethodUniform     ExtractionMethod = "uniform"
	MethodSceneChange ExtractionMethod = "scene_change"
)

// ImageRef is an opaque handle to a frame's pixels: a backing file, an
// already-decoded image, or both. In-memory pixels take precedence when set.
type ImageRef struct {
	Path string
	Mem  image.Image
}

// Decode resolves the reference into pixels. A reference that cannot be
// resolved fails with ErrDecodeFailed; callers in the dedup path must treat
// such a frame as automatically unique, never drop it.
func (r ImageRef) Decode() (image.Image, error) {
	if r.Mem != nil {
		return r.Mem, nil
	}
	if r.Path == "" {
		return nil, fmt.Errorf("%w: empty image ref", ErrDecodeFailed)
	}
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, r.Path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, r.Path, err)
	}
	return img, nil
}

// CandidateFrame is one frame produced by the sampler. Immutable once
// produced; consumed by the deduplicator.
type CandidateFrame struct {
	FrameIndex       int              `json:"frame_index"`
	TimestampSeconds float64          `json:"timestamp_seconds"`
	Image            ImageRef         `json:"-"`
	Method           ExtractionMethod `json:"extraction_method"`
	SceneChangeScore float64          `json:"scene_change_score,omitempty"`
}

// SampledFrame is a candidate that survived deduplication, enriched with the
// audio context the vision call needs.
type SampledFrame struct {
	CandidateFrame
	TranscriptWindow string   `json:"transcript_window,omitempty"`
	TopicsInWindow   []string `json:"topics_in_window,omitempty"`
	ContinuityHint   string   `json:"continuity_hint,omitempty"`
}

// FrameDescription is the analysis result for one sampled frame: either the
// provider's structured document or a locally synthesized fallback. Every
// sampled frame yields exactly one.
type FrameDescription struct {
	Document string `json:"document"`
	Fallback bool   `json:"fallback"`
}

// Segment is one timed span of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the transcription result for a job's audio track.
type Transcript struct {
	FullText string    `json:"full_text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
}

// Topic is one subject identified in the transcript with its active span.
type Topic struct {
	Topic       string  `json:"topic"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Description string  `json:"description,omitempty"`
}

// Enrichment is the semantic analysis layered on a raw transcript. Enriched
// is false when the enrichment call failed; the pipeline continues without it.
type Enrichment struct {
	Enriched           bool     `json:"enriched"`
	SemanticSummary    string   `json:"semantic_summary,omitempty"`
	Topics             []Topic  `json:"topics,omitempty"`
	Tone               string   `json:"tone,omitempty"`
	SpeakingStyle      string   `json:"speaking_style,omitempty"`
	SpeakersDetected   int      `json:"speakers_detected,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	VisualContextHints []string `json:"visual_context_hints,omitempty"`
	ActionPhrases      []string `json:"action_phrases,omitempty"`
}

// Analysis is the synthesized full-flow document for a job.
type Analysis struct {
	ContentType string `json:"content_type"`
	Document    string `json:"document"`
}

// NewJobID generates a unique job ID.
func NewJobID() string {
	return uuid.New().String()
}

// NewFrameID generates a unique frame ID, also used to name intermediate
// frame files so sorting never requires renames.
func NewFrameID() string {
	return uuid.New().String()
}
