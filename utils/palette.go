package utils

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/sirupsen/logrus"
)

// PaletteMethod selects how an initial palette is taken from an image.
type PaletteMethod int

const (
	PaletteNone PaletteMethod = iota
	PaletteDominantColor
	PaletteKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteDominantColor:
		return "dominantcolor"
	case PaletteKMeans:
		return "kmeans"
	default:
		return "none"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return PaletteNone, nil
	case "dominant", "dominantcolor":
		return PaletteDominantColor, nil
	case "kmeans":
		return PaletteKMeans, nil
	}
	return 0, fmt.Errorf("unknown palette method %q", s)
}

type weightedColor struct {
	col    colorful.Color
	weight float64
}

// SortPaletteByBrightness orders colors from darkest to brightest by
// relative luminance.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortStableFunc(palette, func(a, b colorful.Color) int {
		la, lb := luminance(a), luminance(b)
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	})
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// DominantPalette picks k diverse colors among the dominant colors of img.
func DominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	found := dominantcolor.FindWeight(img, max(24, 8*k))
	cands := make([]weightedColor, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		cands = append(cands, weightedColor{col: col.Clamped(), weight: c.Weight})
	}
	if len(cands) == 0 {
		col, _ := colorful.MakeColor(color.RGBA{R: 128, G: 128, B: 128, A: 255})
		cands = append(cands, weightedColor{col: col, weight: 1})
	}
	return diverseColors(cands, k)
}

// KMeansPalette clusters a subsample of the opaque pixels of img and picks
// k diverse colors among the cluster centers.
func KMeansPalette(img image.Image, k int) []colorful.Color {
	const maxSamples = 12000
	b := img.Bounds()
	area := b.Dx() * b.Dy()
	if k <= 0 || area == 0 {
		return nil
	}
	step := 1
	if area > maxSamples {
		step = int(math.Sqrt(float64(area)/maxSamples)) + 1
	}

	var dataset clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			dataset = append(dataset, clusters.Coordinates{
				float64(r) / 65535,
				float64(g) / 65535,
				float64(bl) / 65535,
			})
		}
	}
	if len(dataset) == 0 {
		return nil
	}

	cc, err := kmeans.New().Partition(dataset, min(max(4*k, k+2), len(dataset)))
	if err != nil {
		return nil
	}
	cands := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}
		cands = append(cands, weightedColor{col: col.Clamped(), weight: float64(len(c.Observations))})
	}
	return diverseColors(cands, k)
}

// ExtractPalette returns k colors of img using method. An empty k-means
// result falls back to dominant colors.
func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	if method == PaletteKMeans {
		if p := KMeansPalette(img, k); len(p) > 0 {
			return p
		}
		logrus.WithField("k", k).Warn("kmeans palette empty, falling back to dominant colors")
	}
	return DominantPalette(img, k)
}

// diverseColors greedily picks up to k candidates, starting from the
// heaviest and then maximizing Lab distance to the picked set scaled by
// candidate weight.
func diverseColors(cands []weightedColor, k int) []colorful.Color {
	k = min(k, len(cands))
	if k <= 0 {
		return nil
	}
	heaviest := 0.0
	for i := range cands {
		cands[i].weight = max(cands[i].weight, 1e-6)
		heaviest = max(heaviest, cands[i].weight)
	}

	picked := make([]int, 0, k)
	taken := make([]bool, len(cands))
	first := slices.IndexFunc(cands, func(c weightedColor) bool { return c.weight == heaviest })
	picked = append(picked, first)
	taken[first] = true

	for len(picked) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if taken[i] {
				continue
			}
			d := math.Inf(1)
			for _, j := range picked {
				d = min(d, c.col.DistanceLab(cands[j].col))
			}
			if score := d * (0.55 + 0.45*math.Sqrt(c.weight/heaviest)); score > bestScore {
				best, bestScore = i, score
			}
		}
		picked = append(picked, best)
		taken[best] = true
	}

	out := make([]colorful.Color, len(picked))
	for i, j := range picked {
		out[i] = cands[j].col
	}
	return out
}
