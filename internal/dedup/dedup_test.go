package dedup

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"testing"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidImage(shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}

func rampImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Pix[y*img.Stride+x] = uint8(x * 255 / 63)
		}
	}
	return img
}

func frameAt(ts float64, img image.Image) models.CandidateFrame {
	return models.CandidateFrame{TimestampSeconds: ts, Image: models.ImageRef{Mem: img}}
}

func TestDeduplicateFirstWins(t *testing.T) {
	t.Parallel()

	frames := []models.CandidateFrame{
		frameAt(10, solidImage(200)),
		frameAt(25, rampImage()),
		frameAt(40, solidImage(200)),
	}

	unique, removed := Deduplicate(testLogger(), frames, DefaultThreshold)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(unique) != 2 {
		t.Fatalf("got %d unique frames, want 2", len(unique))
	}
	if unique[0].TimestampSeconds != 10 || unique[1].TimestampSeconds != 25 {
		t.Fatalf("kept timestamps %v and %v, want 10 and 25",
			unique[0].TimestampSeconds, unique[1].TimestampSeconds)
	}
}

func TestDeduplicateNearDuplicate(t *testing.T) {
	t.Parallel()

	// A heavy JPEG round trip perturbs pixels but not the gradient
	// structure, so the hashes stay within the threshold.
	original := rampImage()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, original, &jpeg.Options{Quality: 35}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	noisy, _, err := image.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	unique, removed := Deduplicate(testLogger(), []models.CandidateFrame{
		frameAt(5, original),
		frameAt(9, noisy),
	}, DefaultThreshold)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if unique[0].TimestampSeconds != 5 {
		t.Fatalf("kept timestamp %v, want 5", unique[0].TimestampSeconds)
	}
}

func TestDeduplicateKeepsUndecodable(t *testing.T) {
	t.Parallel()

	frames := []models.CandidateFrame{
		frameAt(10, solidImage(64)),
		{TimestampSeconds: 20, Image: models.ImageRef{Path: "/nonexistent/frame.jpg"}},
		frameAt(30, solidImage(64)),
	}

	unique, removed := Deduplicate(testLogger(), frames, DefaultThreshold)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(unique) != 2 {
		t.Fatalf("got %d unique frames, want 2", len(unique))
	}
	if unique[1].TimestampSeconds != 20 {
		t.Fatalf("undecodable frame was dropped, kept %v", unique[1].TimestampSeconds)
	}
}

func TestDeduplicateIdempotent(t *testing.T) {
	t.Parallel()

	frames := []models.CandidateFrame{
		frameAt(1, solidImage(10)),
		frameAt(2, rampImage()),
		frameAt(3, solidImage(10)),
	}

	unique, _ := Deduplicate(testLogger(), frames, DefaultThreshold)
	again, removed := Deduplicate(testLogger(), unique, DefaultThreshold)
	if removed != 0 {
		t.Fatalf("second pass removed %d frames, want 0", removed)
	}
	if len(again) != len(unique) {
		t.Fatalf("second pass kept %d frames, want %d", len(again), len(unique))
	}
}

func TestDeduplicateEmpty(t *testing.T) {
	t.Parallel()

	unique, removed := Deduplicate(testLogger(), nil, DefaultThreshold)
	if len(unique) != 0 || removed != 0 {
		t.Fatalf("got %d unique, %d removed, want 0 and 0", len(unique), removed)
	}
}
