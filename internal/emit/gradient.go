// SPDX-License-Identifier: MIT

package emit

import (
	"sort"

	"github.com/hue2lan/hue2lan/internal/color"
)

// GradientPoint is one segment color keyed by its segment index.
type GradientPoint struct {
	ID    int
	Color color.RGB
}

// sortPoints orders gradient points by segment id.
func sortPoints(points []GradientPoint) []GradientPoint {
	out := append([]GradientPoint(nil), points...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SampleGradient produces n color samples by piecewise linear interpolation
// across the given gradient points (sorted by id). The endpoint samples
// equal the first and last point colors exactly.
func SampleGradient(points []GradientPoint, n int) []color.RGB {
	if n <= 0 || len(points) == 0 {
		return nil
	}

	sorted := sortPoints(points)
	out := make([]color.RGB, n)

	if len(sorted) == 1 || n == 1 {
		for i := range out {
			out[i] = sorted[0].Color
		}
		return out
	}

	segments := float64(len(sorted) - 1)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1) * segments
		idx := int(t)
		if idx >= len(sorted)-1 {
			out[i] = sorted[len(sorted)-1].Color
			continue
		}
		out[i] = color.Lerp(sorted[idx].Color, sorted[idx+1].Color, t-float64(idx))
	}
	return out
}
