// Package media wraps the ffmpeg and ffprobe binaries for probing sources,
// extracting frames at timestamps, producing scan frames for scene scoring,
// and extracting audio tracks.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// FFmpeg locates and runs the ffmpeg/ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// New verifies the ffmpeg installation.
func New() (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// ProbeInfo describes a media source.
type ProbeInfo struct {
	DurationSeconds float64
	HasVideo        bool
	HasAudio        bool
	Width           int
	Height          int
	FPS             float64
	Format          string
}

// Probe inspects a media file. An unopenable file or one with no usable
// duration fails with ErrSourceUnreadable.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: %s: %v", models.ErrSourceUnreadable, path, err)
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: ffprobe: %v", models.ErrSourceUnreadable, err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: %v", models.ErrSourceUnreadable, err)
	}
	return info, nil
}

func parseProbe(out []byte) (ProbeInfo, error) {
	var data struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			Duration   string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &data); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %v", err)
	}

	info := ProbeInfo{Format: data.Format.FormatName}
	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}

	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			if fps, ok := parseFraction(s.RFrameRate); ok {
				info.FPS = fps
			}
			if info.DurationSeconds == 0 && s.Duration != "" {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					info.DurationSeconds = d
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if info.DurationSeconds <= 0 {
		return ProbeInfo{}, fmt.Errorf("no usable duration")
	}
	return info, nil
}

// parseFraction parses ffprobe rational values like "30000/1001" or "25".
func parseFraction(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractFrameAt writes the frame of path nearest ts as a JPEG to outPath.
func (f *FFmpeg) ExtractFrameAt(ctx context.Context, path string, ts float64, outPath string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-ss", fmt.Sprintf("%.2f", ts),
		"-i", path,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("frame extraction at %.2fs failed: %w: %s", ts, err, tail(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("frame extraction at %.2fs produced no output", ts)
	}
	return nil
}

// ScanFrames decodes the source at rate frames per second into small JPEGs
// under dir, for scene scoring only. Returned paths are in temporal order;
// frame i corresponds to timestamp i/rate.
func (f *FFmpeg) ScanFrames(ctx context.Context, path string, rate float64, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scan directory: %w", err)
	}

	pattern := filepath.Join(dir, "scan_%05d.jpg")
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g,scale=320:-2", rate),
		"-q:v", "5",
		"-y",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("scan extraction failed: %w: %s", err, tail(out))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scan directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "scan_") && strings.HasSuffix(e.Name(), ".jpg") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ExtractAudio writes the source's audio track as mono 16 kHz MP3, the shape
// the transcription providers expect.
func (f *FFmpeg) ExtractAudio(ctx context.Context, path, outPath string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "libmp3lame",
		"-b:a", "64k",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("audio extraction failed: %w: %s", err, tail(out))
	}
	return nil
}

// tail returns the last few lines of ffmpeg output for error messages.
func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	lines := strings.Split(s, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}
