package phash

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"pgregory.net/rapid"
)

func gradient(w, h int, invert bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			if invert {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDHashIdentical(t *testing.T) {
	a := gradient(200, 120, false)
	b := gradient(200, 120, false)
	if Similarity(DHash(a), DHash(b)) != 1 {
		t.Error("identical images are not fully similar")
	}
}

func TestDHashOpposite(t *testing.T) {
	a := DHash(gradient(260, 120, false))
	b := DHash(gradient(260, 120, true))
	if s := Similarity(a, b); s > 0.1 {
		t.Errorf("opposite gradients similarity = %.3f, want near 0", s)
	}
}

func TestDHashScaleInvariant(t *testing.T) {
	small := DHash(gradient(130, 120, false))
	large := DHash(gradient(1300, 1200, false))
	if s := Similarity(small, large); s < 0.95 {
		t.Errorf("rescaled image similarity = %.3f, want >= 0.95", s)
	}
}

func TestDHashEmpty(t *testing.T) {
	var zero Hash
	if got := DHash(image.NewRGBA(image.Rectangle{})); got != zero {
		t.Errorf("DHash(empty) = %s, want zero hash", got)
	}
}

func TestHashString(t *testing.T) {
	var h Hash
	h[0] = 0xab
	s := h.String()
	if len(s) != Bits/4 {
		t.Fatalf("len(String()) = %d, want %d", len(s), Bits/4)
	}
	if s[:2] != "ab" {
		t.Errorf("String() prefix = %s, want ab", s[:2])
	}
}

func TestSamplesMatch(t *testing.T) {
	base := uniform(100, 80, color.RGBA{100, 100, 100, 255})

	tests := []struct {
		name  string
		other image.Image
		want  bool
	}{
		{"Same pixels", uniform(100, 80, color.RGBA{100, 100, 100, 255}), true},
		{"Within tolerance", uniform(100, 80, color.RGBA{110, 90, 105, 255}), true},
		{"Beyond tolerance", uniform(100, 80, color.RGBA{111, 100, 100, 255}), false},
		{"Different width", uniform(101, 80, color.RGBA{100, 100, 100, 255}), false},
		{"Different height", uniform(100, 81, color.RGBA{100, 100, 100, 255}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SamplesMatch(base, tt.other, DefaultTolerance); got != tt.want {
				t.Errorf("SamplesMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSamplesMatchCenterChange(t *testing.T) {
	a := uniform(100, 80, color.RGBA{0, 0, 0, 255})
	b := uniform(100, 80, color.RGBA{0, 0, 0, 255})
	b.SetRGBA(50, 40, color.RGBA{255, 255, 255, 255})
	if SamplesMatch(a, b, DefaultTolerance) {
		t.Error("center change not detected")
	}
}

func TestSamplePointsOffsetBounds(t *testing.T) {
	pts := SamplePoints(image.Rect(10, 20, 30, 60))
	want := [5]image.Point{{10, 20}, {29, 20}, {10, 59}, {29, 59}, {20, 40}}
	if pts != want {
		t.Errorf("SamplePoints = %v, want %v", pts, want)
	}
}

func genHash(t *rapid.T, label string) Hash {
	var h Hash
	raw := rapid.SliceOfN(rapid.Byte(), len(h), len(h)).Draw(t, label)
	copy(h[:], raw)
	return h
}

func TestSimilarityProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genHash(t, "a")
		b := genHash(t, "b")

		if Similarity(a, a) != 1 {
			t.Fatal("similarity is not reflexive")
		}
		if Similarity(a, b) != Similarity(b, a) {
			t.Fatal("similarity is not symmetric")
		}
		s := Similarity(a, b)
		if s < 0 || s > 1 {
			t.Fatalf("similarity %v out of [0, 1]", s)
		}
		if d := Distance(a, b); d < 0 || d > Bits {
			t.Fatalf("distance %d out of [0, %d]", d, Bits)
		}
	})
}

func TestSamplesMatchDimensionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w1 := rapid.IntRange(1, 64).Draw(t, "w1")
		h1 := rapid.IntRange(1, 64).Draw(t, "h1")
		w2 := rapid.IntRange(1, 64).Draw(t, "w2")
		h2 := rapid.IntRange(1, 64).Draw(t, "h2")
		c := color.RGBA{50, 60, 70, 255}

		got := SamplesMatch(uniform(w1, h1, c), uniform(w2, h2, c), DefaultTolerance)
		if want := w1 == w2 && h1 == h2; got != want {
			t.Fatalf("SamplesMatch(%dx%d, %dx%d) = %v, want %v", w1, h1, w2, h2, got, want)
		}
	})
}

// textScreen draws lines of words on a light background, the
// high-frequency content a code editor or document shows.
func textScreen(w, h int, seed uint64) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 235
	}
	for top := 8; top+12 < h; top += 18 {
		x := rng.IntN(w / 6)
		end := x + rng.IntN(w-x)
		for x < end {
			for g := 2 + rng.IntN(9); g > 0 && x+7 < end; g-- {
				// Glyphs are 7px wide with a random ascender height.
				for y := top + rng.IntN(5); y < top+12; y++ {
					for dx := 0; dx < 7; dx++ {
						img.SetGray(x+dx, y, color.Gray{Y: 30})
					}
				}
				x += 9
			}
			x += 9
		}
	}
	return img
}

func shiftRight(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dst.SetGray(b.Min.X, y, src.GrayAt(b.Min.X, y))
		for x := b.Min.X + 1; x < b.Max.X; x++ {
			dst.SetGray(x, y, src.GrayAt(x-1, y))
		}
	}
	return dst
}

func TestDHashStableUnderOnePixelShift(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42} {
		screen := textScreen(1920, 1080, seed)
		sim := Similarity(DHash(screen), DHash(shiftRight(screen)))
		if sim < 0.90 {
			t.Errorf("seed %d: similarity after a 1px shift = %.3f, want >= 0.90", seed, sim)
		}
	}
}
