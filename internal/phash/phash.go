// Package phash computes a 144-bit difference hash and the 5-point sampler
// used to short-circuit hashing of unchanged screens.
package phash

import (
	"encoding/hex"
	"image"
	"image/color"
	"math/bits"

	"golang.org/x/image/draw"
)

const (
	gridSize = 12

	// Bits is the hash length.
	Bits = gridSize * gridSize

	// DefaultTolerance is the per-channel difference, out of 255, below
	// which two sampled pixels count as equal.
	DefaultTolerance = 10
)

// Hash is a difference hash: bit i is set when pixel (x, y) of a 13x12
// grayscale thumbnail is brighter than its right neighbour, row-major.
type Hash [Bits / 8]byte

// String returns the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// DHash hashes img. Zero-sized images hash to the zero Hash.
func DHash(img image.Image) Hash {
	var h Hash
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return h
	}

	// CatmullRom widens its kernel with the scale factor, so each cell is an
	// area average and a one pixel shift barely moves it.
	thumb := image.NewGray(image.Rect(0, 0, gridSize+1, gridSize))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, b, draw.Src, nil)

	bit := 0
	for y := 0; y < gridSize; y++ {
		for x := 0; x < gridSize; x++ {
			if thumb.GrayAt(x, y).Y > thumb.GrayAt(x+1, y).Y {
				h[bit/8] |= 1 << (7 - uint(bit%8))
			}
			bit++
		}
	}
	return h
}

// Distance returns the Hamming distance between a and b.
func Distance(a, b Hash) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// Similarity returns 1 - Distance/Bits, in [0, 1].
func Similarity(a, b Hash) float64 {
	return 1 - float64(Distance(a, b))/Bits
}

// SamplePoints returns the four corners and the center of r.
func SamplePoints(r image.Rectangle) [5]image.Point {
	maxX, maxY := r.Max.X-1, r.Max.Y-1
	return [5]image.Point{
		{r.Min.X, r.Min.Y},
		{maxX, r.Min.Y},
		{r.Min.X, maxY},
		{maxX, maxY},
		{r.Min.X + r.Dx()/2, r.Min.Y + r.Dy()/2},
	}
}

// SamplesMatch reports whether a and b have identical dimensions and every
// channel of the five sample points differs by at most tolerance/255.
func SamplesMatch(a, b image.Image, tolerance uint8) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() || ab.Empty() {
		return false
	}

	pa, pb := SamplePoints(ab), SamplePoints(bb)
	for i := range pa {
		if !colorsClose(a.At(pa[i].X, pa[i].Y), b.At(pb[i].X, pb[i].Y), tolerance) {
			return false
		}
	}
	return true
}

func colorsClose(c1, c2 color.Color, tolerance uint8) bool {
	r1, g1, b1, a1 := c1.RGBA()
	r2, g2, b2, a2 := c2.RGBA()
	return within(r1, r2, tolerance) && within(g1, g2, tolerance) &&
		within(b1, b2, tolerance) && within(a1, a2, tolerance)
}

func within(x, y uint32, tolerance uint8) bool {
	x, y = x>>8, y>>8
	if x > y {
		return x-y <= uint32(tolerance)
	}
	return y-x <= uint32(tolerance)
}
