// Package sampler extracts a bounded, time-ordered set of candidate frames
// from a video by combining uniform coverage sampling with scene-change
// detection. Uniform sampling guarantees full-duration coverage but misses
// fast transitions; scene detection catches transitions but clusters. The
// combination bounds worst-case blind spots while keeping the frame count
// capped, which is what controls downstream vision cost.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/hash"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// Source provides timed access to a video's frames.
type Source interface {
	// ExtractFrameAt writes the frame nearest ts as a JPEG to outPath.
	ExtractFrameAt(ctx context.Context, ts float64, outPath string) error
	// ScanFrames decodes the source at rate frames per second into JPEGs
	// under dir, returning paths in temporal order: path i holds the frame
	// at timestamp i/rate.
	ScanFrames(ctx context.Context, rate float64, dir string) ([]string, error)
}

// Options tune the two sampling passes.
type Options struct {
	IntervalSeconds float64
	MinFrames       int
	MaxFrames       int
	SceneThreshold  float64
}

// DefaultOptions returns the production sampling parameters.
func DefaultOptions() Options {
	return Options{IntervalSeconds: 4.0, MinFrames: 10, MaxFrames: 50, SceneThreshold: 20.0}
}

const (
	// Candidates closer than this to an accepted frame are skipped in the
	// coverage pass.
	uniformExclusion = 1.0
	// Scene-change candidates closer than this to any accepted frame are
	// skipped.
	sceneExclusion = 2.0
	// Scene scoring samples the source at this rate, not every frame.
	scanRate = 2.0
)

// Sampler materializes candidate frames under a working directory.
type Sampler struct {
	log *slog.Logger
}

// New returns a sampler logging through log.
func New(log *slog.Logger) *Sampler {
	return &Sampler{log: log}
}

// Sample extracts candidate frames from src into dir. The result is sorted
// by ascending timestamp, indexed in that order, and its length is bounded
// by [MinFrames, MaxFrames] except on the degenerate-video path. A source
// yielding no readable frames at all fails with ErrSourceUnreadable.
func (s *Sampler) Sample(ctx context.Context, src Source, duration float64, dir string, opts Options) ([]models.CandidateFrame, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: non-positive duration", models.ErrSourceUnreadable)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	target := int(duration / opts.IntervalSeconds)
	if target < opts.MinFrames {
		target = opts.MinFrames
	}
	if target > opts.MaxFrames {
		target = opts.MaxFrames
	}
	s.log.Info("adaptive sampling", "duration", duration, "target_frames", target)

	candidates, accepted := s.coveragePass(ctx, src, duration, dir, target)

	if len(candidates) < opts.MaxFrames {
		scene := s.scenePass(ctx, src, duration, dir, opts.SceneThreshold, opts.MaxFrames-len(candidates), accepted)
		candidates = append(candidates, scene...)
	}

	// Degenerate-video safety net: when both passes barely produced
	// anything on a non-trivial source, resample plain uniform.
	if len(candidates) < 3 && duration > 10 {
		s.log.Warn("sampling degenerate, falling back to plain uniform", "got", len(candidates))
		for _, c := range candidates {
			if c.Image.Path != "" {
				os.Remove(c.Image.Path)
			}
		}
		candidates = s.uniformFallback(ctx, src, duration, dir, opts.MaxFrames)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no readable frames", models.ErrSourceUnreadable)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].TimestampSeconds < candidates[j].TimestampSeconds
	})
	for i := range candidates {
		candidates[i].FrameIndex = i
	}

	s.log.Info("sampling complete", "candidates", len(candidates))
	return candidates, nil
}

// coveragePass extracts target frames evenly spread over the duration,
// skipping timestamps that collide with an already-accepted frame.
func (s *Sampler) coveragePass(ctx context.Context, src Source, duration float64, dir string, target int) ([]models.CandidateFrame, []float64) {
	var candidates []models.CandidateFrame
	var accepted []float64

	interval := duration / float64(target+1)
	for k := 1; k <= target; k++ {
		ts := round2(interval * float64(k))
		if near(accepted, ts, uniformExclusion) {
			continue
		}

		path := filepath.Join(dir, "frame_"+models.NewFrameID()+".jpg")
		if err := src.ExtractFrameAt(ctx, ts, path); err != nil {
			s.log.Warn("uniform frame extraction failed", "ts", ts, "error", err)
			continue
		}

		candidates = append(candidates, models.CandidateFrame{
			TimestampSeconds: ts,
			Image:            models.ImageRef{Path: path},
			Method:           models.MethodUniform,
		})
		accepted = append(accepted, ts)
	}
	return candidates, accepted
}

// scenePass scans the source at a reduced rate, scores consecutive scanned
// frames by luminance-histogram correlation, and re-extracts full-quality
// frames where the score crosses the threshold. Scan failures degrade to an
// empty pass; the coverage frames still stand.
func (s *Sampler) scenePass(ctx context.Context, src Source, duration float64, dir string, threshold float64, maxAdditional int, accepted []float64) []models.CandidateFrame {
	if maxAdditional <= 0 {
		return nil
	}

	scanDir := filepath.Join(dir, "scan")
	paths, err := src.ScanFrames(ctx, scanRate, scanDir)
	if err != nil {
		s.log.Warn("scene scan unavailable", "error", err)
		return nil
	}
	defer os.RemoveAll(scanDir)

	var out []models.CandidateFrame
	var prev *histogram
	for i, p := range paths {
		if len(out) >= maxAdditional {
			break
		}
		ts := round2(float64(i) / scanRate)
		if ts > duration {
			break
		}

		img, err := (models.ImageRef{Path: p}).Decode()
		if err != nil {
			continue
		}
		h := histogram256(hash.Grayscale(img))

		if prev != nil {
			score := (1 - correlation(h, prev)) * 100
			if score > threshold && !near(accepted, ts, sceneExclusion) {
				framePath := filepath.Join(dir, "frame_"+models.NewFrameID()+".jpg")
				if err := src.ExtractFrameAt(ctx, ts, framePath); err != nil {
					s.log.Warn("scene frame extraction failed", "ts", ts, "error", err)
				} else {
					out = append(out, models.CandidateFrame{
						TimestampSeconds: ts,
						Image:            models.ImageRef{Path: framePath},
						Method:           models.MethodSceneChange,
						SceneChangeScore: round2(score),
					})
					accepted = append(accepted, ts)
					s.log.Debug("scene change accepted", "ts", ts, "score", round2(score))
				}
			}
		}
		prev = h
	}
	return out
}

// uniformFallback resamples the source at count evenly spaced timestamps
// with no scoring or collision logic.
func (s *Sampler) uniformFallback(ctx context.Context, src Source, duration float64, dir string, count int) []models.CandidateFrame {
	var out []models.CandidateFrame
	interval := duration / float64(count+1)
	for k := 1; k <= count; k++ {
		ts := round2(interval * float64(k))
		path := filepath.Join(dir, "frame_"+models.NewFrameID()+".jpg")
		if err := src.ExtractFrameAt(ctx, ts, path); err != nil {
			s.log.Warn("fallback frame extraction failed", "ts", ts, "error", err)
			continue
		}
		out = append(out, models.CandidateFrame{
			TimestampSeconds: ts,
			Image:            models.ImageRef{Path: path},
			Method:           models.MethodUniform,
		})
	}
	return out
}

func near(accepted []float64, ts, eps float64) bool {
	for _, t := range accepted {
		if math.Abs(t-ts) < eps {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
