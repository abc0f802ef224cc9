// Package dedup collapses visually duplicate frames so the vision stage
// spends its call budget on distinct screens only.
package dedup

import (
	"log/slog"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/hash"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// DefaultThreshold is the Hamming distance at or below which two frame
// hashes count as the same screen.
const DefaultThreshold = 20

// Deduplicate keeps the first occurrence of every visually distinct frame,
// preserving input order. Each candidate is hashed and compared against all
// previously kept hashes; a match at or under threshold drops the candidate.
// Frames that cannot be decoded are always kept, since a frame that cannot
// be hashed cannot be proven duplicate. Returns the survivors and the number
// of frames dropped.
func Deduplicate(log *slog.Logger, frames []models.CandidateFrame, threshold int) ([]models.CandidateFrame, int) {
	unique := make([]models.CandidateFrame, 0, len(frames))
	// Parallel to unique; nil marks an undecodable frame that never
	// participates in comparisons.
	hashes := make([]hash.FrameHash, 0, len(frames))
	removed := 0

	for _, frame := range frames {
		h := hashFrame(log, frame)
		if h != nil && isDuplicate(log, frame, h, unique, hashes, threshold) {
			removed++
			continue
		}
		unique = append(unique, frame)
		hashes = append(hashes, h)
	}

	if removed > 0 {
		log.Info("frames deduplicated", "kept", len(unique), "removed", removed)
	}
	return unique, removed
}

func isDuplicate(log *slog.Logger, frame models.CandidateFrame, h hash.FrameHash, unique []models.CandidateFrame, hashes []hash.FrameHash, threshold int) bool {
	for i, kept := range hashes {
		if kept == nil {
			continue
		}
		d, err := hash.Distance(h, kept)
		if err != nil {
			continue
		}
		if d <= threshold {
			log.Debug("duplicate frame dropped",
				"ts", frame.TimestampSeconds,
				"kept_ts", unique[i].TimestampSeconds,
				"distance", d)
			return true
		}
	}
	return false
}

func hashFrame(log *slog.Logger, frame models.CandidateFrame) hash.FrameHash {
	img, err := frame.Image.Decode()
	if err != nil {
		log.Warn("frame hash unavailable, keeping frame",
			"ts", frame.TimestampSeconds, "error", err)
		return nil
	}
	return hash.Compute(img)
}
