package hash

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// gradient paints a horizontal luminance ramp with a few darker bands so the
// hash has structure in both axes.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			if (y/(h/4))%2 == 1 {
				v /= 2
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func checkerboard(w, h, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func solid(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func reencodeJPEG(t *testing.T, img image.Image, quality int) image.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	out, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	return out
}

func TestComputeStable(t *testing.T) {
	t.Parallel()

	img := gradient(340, 160)
	h1 := Compute(img)
	h2 := Compute(img)

	if len(h1) != DefaultSize*DefaultSize {
		t.Fatalf("hash length %d, want %d", len(h1), DefaultSize*DefaultSize)
	}
	d, err := Distance(h1, h2)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d != 0 {
		t.Fatalf("repeated hash of same pixels differs by %d bits", d)
	}
}

func TestSimilarImagesHashClose(t *testing.T) {
	t.Parallel()

	src := gradient(340, 160)
	hq := Compute(reencodeJPEG(t, src, 90))
	lq := Compute(reencodeJPEG(t, src, 40))

	d, err := Distance(hq, lq)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d > 20 {
		t.Fatalf("re-encoded image drifted %d bits, want <= 20", d)
	}
}

func TestDistinctImagesHashFar(t *testing.T) {
	t.Parallel()

	plain := Compute(solid(170, 160, 128))
	board := Compute(checkerboard(170, 160, 10))

	d, err := Distance(plain, board)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d <= 20 {
		t.Fatalf("solid vs checkerboard distance %d, want > 20", d)
	}
}

func TestDistanceCounts(t *testing.T) {
	t.Parallel()

	a := FrameHash{true, false, true, false}
	b := FrameHash{true, true, false, false}
	d, err := Distance(a, b)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d != 2 {
		t.Fatalf("distance = %d, want 2", d)
	}
}

func TestDistanceShapeMismatch(t *testing.T) {
	t.Parallel()

	a := Compute(solid(34, 32, 10))
	b := ComputeWithSize(solid(34, 32, 10), 8)
	if _, err := Distance(a, b); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
