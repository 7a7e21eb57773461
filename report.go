package styletransfer

import (
	"errors"
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// PaletteMethod selects how ExtractPalette summarizes an image.
type PaletteMethod int

const (
	// PaletteDominant weights colors with dominantcolor's clustering.
	PaletteDominant PaletteMethod = iota
	// PaletteKMeans partitions sampled pixels with k-means in RGB space.
	PaletteKMeans
)

// ErrUnknownPaletteMethod is returned by ParsePaletteMethod for names
// other than "dominant" and "kmeans".
var ErrUnknownPaletteMethod = errors.New("unknown palette method")

func (m PaletteMethod) String() string {
	if m == PaletteKMeans {
		return "kmeans"
	}
	return "dominant"
}

// ParsePaletteMethod maps "dominant" and "kmeans" to their methods.
func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "dominant":
		return PaletteDominant, nil
	case "kmeans":
		return PaletteKMeans, nil
	}
	return PaletteDominant, fmt.Errorf("%w: %q", ErrUnknownPaletteMethod, s)
}

// paletteSamples caps the pixels fed to k-means.
const paletteSamples = 12000

// ExtractPalette returns up to k representative colors of img, most
// prevalent first.
func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	if k <= 0 || img.Bounds().Empty() {
		return nil
	}
	if method == PaletteKMeans {
		if p := kmeansPalette(img, k); len(p) > 0 {
			return p
		}
	}
	return dominantPalette(img, k)
}

func dominantPalette(img image.Image, k int) []colorful.Color {
	found := dominantcolor.FindWeight(img, k)
	slices.SortStableFunc(found, func(a, b dominantcolor.Color) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		}
		return 0
	})
	out := make([]colorful.Color, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		out = append(out, col.Clamped())
	}
	return out
}

func kmeansPalette(img image.Image, k int) []colorful.Color {
	b := img.Bounds()
	step := 1
	if n := b.Dx() * b.Dy(); n > paletteSamples {
		step = int(math.Sqrt(float64(n)/paletteSamples)) + 1
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

	cc, err := kmeans.New().Partition(dataset, min(k, len(dataset)))
	if err != nil {
		return nil
	}
	slices.SortStableFunc(cc, func(a, b clusters.Cluster) int {
		return len(b.Observations) - len(a.Observations)
	})

	out := make([]colorful.Color, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		out = append(out, colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped())
	}
	return out
}

// PaletteDistance is the mean CIEDE2000 distance from each color of a to
// its nearest color in b. It is 0 when every color of a appears in b and
// +Inf when either palette is empty.
func PaletteDistance(a, b []colorful.Color) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, ca := range a {
		best := math.Inf(1)
		for _, cb := range b {
			best = min(best, ca.DistanceCIEDE2000(cb))
		}
		sum += best
	}
	return sum / float64(len(a))
}

// ColorReport compares the palettes of the content, style and result
// images.
type ColorReport struct {
	Method         PaletteMethod
	Style          []colorful.Color
	ContentToStyle float64
	ResultToStyle  float64
}

// CompareColors builds a ColorReport with k colors per palette. A
// successful transfer usually has ResultToStyle below ContentToStyle.
func CompareColors(content, style, result image.Image, k int, method PaletteMethod) ColorReport {
	stylePalette := ExtractPalette(style, k, method)
	return ColorReport{
		Method:         method,
		Style:          stylePalette,
		ContentToStyle: PaletteDistance(ExtractPalette(content, k, method), stylePalette),
		ResultToStyle:  PaletteDistance(ExtractPalette(result, k, method), stylePalette),
	}
}

// StyleHex returns the style palette as hex strings.
func (r ColorReport) StyleHex() []string {
	out := make([]string, len(r.Style))
	for i, c := range r.Style {
		out[i] = c.Hex()
	}
	return out
}
