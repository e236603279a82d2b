package palette

import (
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/codr1/skinforge/internal/models"
)

// neutralBlend is how far the neutral surface moves from background toward foreground.
const neutralBlend = 0.12

// rgb is a color on 0-255 axes; distances are plain Euclidean in this space.
type rgb [3]float64

func rgbFromColor(c colorful.Color) rgb {
	return rgb{c.R * 255, c.G * 255, c.B * 255}
}

func (c rgb) color() colorful.Color {
	return colorful.Color{R: c[0] / 255, G: c[1] / 255, B: c[2] / 255}.Clamped()
}

func (c rgb) luminance() float64 {
	return models.Luminance(c.color())
}

func (c rgb) saturation() float64 {
	_, s, _ := c.color().Hsv()
	return s
}

func distance(a, b rgb) float64 {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// kmeans reduces samples to at most k centroids. Seeds are spread evenly over
// the samples ordered by luminance; the loop runs a fixed number of rounds.
func kmeans(samples []rgb, k, iterations int) []rgb {
	if len(samples) == 0 || k <= 0 {
		return nil
	}
	if k > len(samples) {
		k = len(samples)
	}

	ordered := make([]rgb, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].luminance() < ordered[j].luminance()
	})

	centroids := make([]rgb, k)
	for i := range centroids {
		centroids[i] = ordered[(2*i+1)*len(ordered)/(2*k)]
	}

	assignments := make([]int, len(samples))
	for iter := 0; iter < iterations; iter++ {
		for i, sample := range samples {
			best := 0
			bestDist := math.Inf(1)
			for c, centroid := range centroids {
				if d := distance(sample, centroid); d < bestDist {
					best = c
					bestDist = d
				}
			}
			assignments[i] = best
		}

		sums := make([]rgb, k)
		counts := make([]int, k)
		for i, sample := range samples {
			c := assignments[i]
			sums[c][0] += sample[0]
			sums[c][1] += sample[1]
			sums[c][2] += sample[2]
			counts[c]++
		}
		for c := range centroids {
			// An empty cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			n := float64(counts[c])
			centroids[c] = rgb{sums[c][0] / n, sums[c][1] / n, sums[c][2] / n}
		}
	}
	return centroids
}

// assignRoles maps centroids onto palette roles.
func assignRoles(centroids []rgb, accentMinDistance float64) models.Palette {
	if len(centroids) == 0 {
		return models.DefaultPalette()
	}

	bgIdx := 0
	for i, c := range centroids {
		if c.luminance() < centroids[bgIdx].luminance() {
			bgIdx = i
		}
	}
	bg := centroids[bgIdx].color()
	background := models.FormatHex(bg)

	foreground := ""
	bestContrast := 0.0
	for i, c := range centroids {
		if i == bgIdx {
			continue
		}
		if ratio := models.ContrastOf(c.color(), bg); ratio > bestContrast {
			bestContrast = ratio
			foreground = models.FormatHex(c.color())
		}
	}
	if bestContrast < models.MinTextContrastRatio {
		foreground = models.ReadableTextOn(background)
	}

	type candidate struct {
		hex        string
		saturation float64
	}
	var accents []candidate
	for i, c := range centroids {
		if i == bgIdx || distance(c, centroids[bgIdx]) <= accentMinDistance {
			continue
		}
		accents = append(accents, candidate{hex: models.FormatHex(c.color()), saturation: c.saturation()})
	}
	sort.SliceStable(accents, func(i, j int) bool {
		return accents[i].saturation > accents[j].saturation
	})

	defaults := models.DefaultPalette()
	primary := defaults.Primary
	accent2 := defaults.Accent2
	if len(accents) > 0 {
		primary = accents[0].hex
		accent2 = primary
	}
	if len(accents) > 1 {
		accent2 = accents[1].hex
	}

	fg, _ := models.ParseHex(foreground)
	neutral := models.FormatHex(bg.BlendRgb(fg, neutralBlend))

	p := models.Palette{
		Background: background,
		Foreground: foreground,
		Primary:    primary,
		Accent1:    primary,
		Accent2:    accent2,
		Neutral:    neutral,
	}
	return p.EnsureReadable()
}
