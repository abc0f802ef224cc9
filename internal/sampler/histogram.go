package sampler

import (
	"image"
	"math"
)

// histogram is a 256-bin luminance histogram.
type histogram [256]float64

// histogram256 counts pixel luminance values of a grayscale image.
func histogram256(g *image.Gray) *histogram {
	var h histogram
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, v := range row {
			h[v]++
		}
	}
	return &h
}

// correlation returns the Pearson correlation coefficient of two histograms
// in [-1, 1]. Degenerate inputs with no variance compare as 1 when equal and
// 0 otherwise, so identical flat frames score as no change.
func correlation(a, b *histogram) float64 {
	var meanA, meanB float64
	for i := 0; i < 256; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= 256
	meanB /= 256

	var num, varA, varB float64
	for i := 0; i < 256; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		varA += da * da
		varB += db * db
	}

	denom := math.Sqrt(varA * varB)
	if denom < 1e-12 {
		if *a == *b {
			return 1
		}
		return 0
	}
	return num / denom
}
