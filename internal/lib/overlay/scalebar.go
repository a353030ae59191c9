// Package overlay computes and draws the scale bar and legend composited
// onto exported map images.
package overlay

import (
	"errors"
	"fmt"
	"math"

	"github.com/terracarta/mapengine/internal/lib/geo"
)

// CompositingError indicates a legend or scale-bar render failure. The
// exporter treats these as degradable: the underlying map is still returned.
type CompositingError struct {
	Element string // "legend" or "scalebar"
	Err     error
}

func (e *CompositingError) Error() string {
	return fmt.Sprintf("failed to composite %s: %v", e.Element, e.Err)
}

func (e *CompositingError) Unwrap() error { return e.Err }

// niceMiles is the ladder of round-number bar distances. Bar lengths always
// snap to a member of this ladder.
var niceMiles = []float64{
	0.05, 0.1, 0.2, 0.25, 0.5, 0.75, 1, 1.5, 2, 2.5, 5, 7.5, 10, 15, 20, 25, 50,
}

const (
	targetBarInches = 1.5
	minBarInches    = 0.5
	maxBarInches    = 3.0

	metersPerInch = 0.0254
)

// ScaleInput provides the map's real-world width, either as a cartographic
// scale denominator (preferred) or a measured ground width in meters.
type ScaleInput struct {
	ScaleDenominator  float64
	GroundWidthMeters float64
}

// BarChoice is a selected scale-bar distance and its rendered width.
type BarChoice struct {
	Miles   float64
	Label   string
	WidthPx int
}

// ChooseScaleBarDistance picks the ladder distance that renders closest to
// 1.5 inches at the given DPI, stepping along the ladder when the result
// would fall outside the half-inch to three-inch window.
func ChooseScaleBarDistance(in ScaleInput, imgWidthPx, dpi int) (BarChoice, error) {
	pxPerMile, err := pixelsPerMile(in, imgWidthPx, dpi)
	if err != nil {
		return BarChoice{}, err
	}

	idx := nearestLadderIndex(targetBarInches * float64(dpi) / pxPerMile)

	minPx := minBarInches * float64(dpi)
	maxPx := maxBarInches * float64(dpi)
	idx = stepIntoWindow(idx, pxPerMile, minPx, maxPx)

	return makeChoice(idx, pxPerMile), nil
}

// ChooseCompositedScaleBar picks a bar for drawing on the final exported
// raster rather than the print service's native canvas. Because the bar is
// composited after export, it is additionally held to a share of the image:
// at least a quarter of the width (or 800px, whichever is larger) and at
// most 45% of it.
func ChooseCompositedScaleBar(in ScaleInput, imgWidthPx, dpi int) (BarChoice, error) {
	pxPerMile, err := pixelsPerMile(in, imgWidthPx, dpi)
	if err != nil {
		return BarChoice{}, err
	}

	idx := nearestLadderIndex(targetBarInches * float64(dpi) / pxPerMile)

	minPx := math.Max(0.25*float64(imgWidthPx), 800)
	maxPx := 0.45 * float64(imgWidthPx)
	if minPx > maxPx {
		// Narrow image: the share ceiling wins over the absolute floor.
		minPx = maxPx
	}
	idx = stepIntoWindow(idx, pxPerMile, minPx, maxPx)

	return makeChoice(idx, pxPerMile), nil
}

// pixelsPerMile derives the render density from the scale denominator when
// available, else from the measured ground width.
func pixelsPerMile(in ScaleInput, imgWidthPx, dpi int) (float64, error) {
	if imgWidthPx <= 0 || dpi <= 0 {
		return 0, errors.New("image width and dpi must be positive")
	}

	var groundWidthMeters float64
	switch {
	case in.ScaleDenominator > 0:
		// One image inch spans scaleDenominator inches of ground.
		groundWidthMeters = in.ScaleDenominator * float64(imgWidthPx) / float64(dpi) * metersPerInch
	case in.GroundWidthMeters > 0:
		groundWidthMeters = in.GroundWidthMeters
	default:
		return 0, errors.New("either a scale denominator or a ground width is required")
	}

	mapWidthMiles := groundWidthMeters / geo.MetersPerMile
	return float64(imgWidthPx) / mapWidthMiles, nil
}

func nearestLadderIndex(targetMiles float64) int {
	best := 0
	bestDiff := math.Abs(niceMiles[0] - targetMiles)
	for i, m := range niceMiles[1:] {
		if diff := math.Abs(m - targetMiles); diff < bestDiff {
			best, bestDiff = i+1, diff
		}
	}
	return best
}

// stepIntoWindow moves along the ladder until the rendered width lands in
// [minPx, maxPx], or the ladder runs out.
func stepIntoWindow(idx int, pxPerMile, minPx, maxPx float64) int {
	for idx < len(niceMiles)-1 && niceMiles[idx]*pxPerMile < minPx {
		idx++
	}
	for idx > 0 && niceMiles[idx]*pxPerMile > maxPx {
		idx--
	}
	return idx
}

func makeChoice(idx int, pxPerMile float64) BarChoice {
	miles := niceMiles[idx]
	return BarChoice{
		Miles:   miles,
		Label:   formatBarLabel(miles),
		WidthPx: int(math.Round(miles * pxPerMile)),
	}
}

// formatBarLabel renders "X mi (Y ft)": one decimal place below a mile,
// trimmed decimals above.
func formatBarLabel(miles float64) string {
	var mi string
	if miles < 1 {
		mi = fmt.Sprintf("%.1f", miles)
		// 0.05, 0.25 and 0.75 would otherwise round misleadingly to
		// 0.1/0.2/0.8.
		if miles == 0.05 || miles == 0.25 || miles == 0.75 {
			mi = fmt.Sprintf("%.2f", miles)
		}
	} else if miles == math.Trunc(miles) {
		mi = fmt.Sprintf("%.0f", miles)
	} else {
		mi = fmt.Sprintf("%.1f", miles)
	}

	feet := int(math.Round(miles * 5280))
	return fmt.Sprintf("%s mi (%s ft)", mi, groupThousands(feet))
}

func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}
