// Package hash implements perceptual difference hashing for frame
// similarity. Two visually similar frames hash to bit vectors within a small
// Hamming distance; distinct frames typically land far above the dedup
// threshold.
package hash

import (
	"errors"
	"image"
)

// DefaultSize is the hash grid size; the resulting vector carries
// DefaultSize*DefaultSize bits.
const DefaultSize = 16

// ErrShapeMismatch is returned by Distance for vectors of unequal length.
var ErrShapeMismatch = errors.New("hash shape mismatch")

// FrameHash is a fixed-length difference-hash bit vector, row-major.
type FrameHash []bool

// Compute returns the difference hash of img at the default size.
// Deterministic and pure: the same pixels always produce the same vector.
func Compute(img image.Image) FrameHash {
	return ComputeWithSize(img, DefaultSize)
}

// ComputeWithSize hashes img on a size x size grid. The image is reduced to
// luminance and downscaled to (size+1) x size with area averaging; each bit
// records whether luminance increases between horizontal neighbors. Area
// averaging matters: nearest-neighbor sampling amplifies noise and defeats
// the comparison.
func ComputeWithSize(img image.Image, size int) FrameHash {
	gray := Grayscale(img)
	cells := downscaleArea(gray, size+1, size)

	bits := make(FrameHash, 0, size*size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			bits = append(bits, cells[r][c+1] > cells[r][c])
		}
	}
	return bits
}

// Distance returns the Hamming distance between two hashes.
func Distance(a, b FrameHash) (int, error) {
	if len(a) != len(b) {
		return 0, ErrShapeMismatch
	}
	d := 0
	for i := range a {
		if a[i] != b[i] {
			d++
		}
	}
	return d, nil
}

// Grayscale converts img to an 8-bit luminance plane. JPEG-decoded YCbCr
// images use their Y plane directly; everything else goes through the
// standard Rec. 601 weights.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.YCbCr); ok {
		for y := 0; y < b.Dy(); y++ {
			off := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Y[off:off+b.Dx()])
		}
		return out
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := (299*r + 587*g + 114*bl) / 1000
			out.Pix[(y-b.Min.Y)*out.Stride+(x-b.Min.X)] = uint8(lum >> 8)
		}
	}
	return out
}

// downscaleArea reduces gray to outW x outH by averaging each destination
// cell's source box. Returns mean luminance per cell, row-major.
func downscaleArea(gray *image.Gray, outW, outH int) [][]float64 {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()

	cells := make([][]float64, outH)
	for r := 0; r < outH; r++ {
		cells[r] = make([]float64, outW)
		y0 := r * h / outH
		y1 := (r + 1) * h / outH
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > h {
			y1 = h
		}
		for c := 0; c < outW; c++ {
			x0 := c * w / outW
			x1 := (c + 1) * w / outW
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > w {
				x1 = w
			}

			var sum float64
			for y := y0; y < y1; y++ {
				base := gray.PixOffset(gray.Rect.Min.X+x0, gray.Rect.Min.Y+y)
				for x := x0; x < x1; x++ {
					sum += float64(gray.Pix[base])
					base++
				}
			}
			cells[r][c] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return cells
}
