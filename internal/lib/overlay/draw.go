package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"

	"github.com/terracarta/mapengine/internal/lib/geo"
)

// BarStyle selects the scale bar rendering.
type BarStyle string

const (
	BarStyleClassic BarStyle = "classic" // alternating black/white segments
	BarStyleSimple  BarStyle = "simple"  // line with end ticks
	BarStyleModern  BarStyle = "modern"  // filled bar with outline
)

// ParseBarStyle resolves a caller-supplied style name. The empty string
// selects the classic style.
func ParseBarStyle(name string) (BarStyle, error) {
	switch BarStyle(name) {
	case "", BarStyleClassic:
		return BarStyleClassic, nil
	case BarStyleSimple:
		return BarStyleSimple, nil
	case BarStyleModern:
		return BarStyleModern, nil
	default:
		return "", fmt.Errorf("unknown scale bar style %q, want classic, simple, or modern", name)
	}
}

// Layout constants for the composited bottom-left panel.
const (
	panelMargin = 24 // px from the image edge
	panelGap    = 14 // px between scale bar and legend
	barHeight   = 12
	swatchSize  = 18
	legendPad   = 12
	rowGap      = 8
)

// LegendRow describes one swatch line in the legend panel.
type LegendRow struct {
	Label   string
	Fill    color.Color
	Outline color.Color
	Dashed  bool
}

// Compositor draws scale bars, legends and polygon overlays onto map
// images. Safe for concurrent use; the font face is read-only.
type Compositor struct {
	labelFace fontFace
	titleFace fontFace
}

// NewCompositor creates a compositor with the bundled fonts loaded.
func NewCompositor() (*Compositor, error) {
	labelFace, err := newFace(14)
	if err != nil {
		return nil, &CompositingError{Element: "scalebar", Err: err}
	}
	titleFace, err := newFace(16)
	if err != nil {
		return nil, &CompositingError{Element: "legend", Err: err}
	}
	return &Compositor{labelFace: labelFace, titleFace: titleFace}, nil
}

// DrawScaleBar draws the bar with its label at (x, y) being the bar's
// top-left corner.
func (c *Compositor) DrawScaleBar(dc *gg.Context, x, y float64, choice BarChoice, style BarStyle) error {
	w := float64(choice.WidthPx)
	if w <= 0 {
		return &CompositingError{Element: "scalebar", Err: fmt.Errorf("non-positive bar width %d", choice.WidthPx)}
	}

	switch style {
	case BarStyleSimple:
		dc.SetColor(color.Black)
		dc.SetLineWidth(2)
		dc.DrawLine(x, y+barHeight/2, x+w, y+barHeight/2)
		dc.Stroke()
		dc.DrawLine(x, y, x, y+barHeight)
		dc.Stroke()
		dc.DrawLine(x+w, y, x+w, y+barHeight)
		dc.Stroke()
	case BarStyleModern:
		dc.SetRGBA(0, 0, 0, 0.75)
		dc.DrawRectangle(x, y, w, barHeight)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.SetLineWidth(1.5)
		dc.DrawRectangle(x, y, w, barHeight)
		dc.Stroke()
	default: // classic
		const segments = 4
		segW := w / segments
		for i := 0; i < segments; i++ {
			if i%2 == 0 {
				dc.SetColor(color.Black)
			} else {
				dc.SetColor(color.White)
			}
			dc.DrawRectangle(x+float64(i)*segW, y, segW, barHeight)
			dc.Fill()
		}
		dc.SetColor(color.Black)
		dc.SetLineWidth(1.5)
		dc.DrawRectangle(x, y, w, barHeight)
		dc.Stroke()
	}

	// Label centered under the bar, on a translucent backing strip so it
	// stays readable over imagery.
	dc.SetFontFace(c.labelFace)
	labelW, labelH := dc.MeasureString(choice.Label)
	lx := x + w/2 - labelW/2
	ly := y + barHeight + labelH + 4

	dc.SetRGBA(1, 1, 1, 0.7)
	dc.DrawRectangle(lx-4, y+barHeight+2, labelW+8, labelH+6)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.DrawString(choice.Label, lx, ly)

	return nil
}

// DrawLegend draws a bordered legend panel at (x, y) top-left and returns
// its pixel height.
func (c *Compositor) DrawLegend(dc *gg.Context, x, y float64, rows []LegendRow) (float64, error) {
	if len(rows) == 0 {
		return 0, &CompositingError{Element: "legend", Err: fmt.Errorf("no legend rows")}
	}

	dc.SetFontFace(c.titleFace)
	titleW, titleH := dc.MeasureString("Legend")

	dc.SetFontFace(c.labelFace)
	maxLabelW := titleW
	var labelH float64
	for _, row := range rows {
		lw, lh := dc.MeasureString(row.Label)
		if w := lw + swatchSize + 8; w > maxLabelW {
			maxLabelW = w
		}
		labelH = lh
	}

	rowH := swatchSize
	if labelH > float64(rowH) {
		rowH = int(labelH)
	}
	panelW := maxLabelW + 2*legendPad
	panelH := titleH + float64(len(rows)*(rowH+rowGap)) + 2*legendPad

	// Panel
	dc.SetRGBA(1, 1, 1, 0.92)
	dc.DrawRectangle(x, y, panelW, panelH)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(1.5)
	dc.DrawRectangle(x, y, panelW, panelH)
	dc.Stroke()

	// Title
	dc.SetFontFace(c.titleFace)
	dc.SetColor(color.Black)
	dc.DrawString("Legend", x+legendPad, y+legendPad+titleH-2)

	// Rows
	dc.SetFontFace(c.labelFace)
	rowY := y + legendPad + titleH + float64(rowGap)
	for _, row := range rows {
		if row.Fill != nil {
			dc.SetColor(row.Fill)
			dc.DrawRectangle(x+legendPad, rowY, swatchSize, swatchSize)
			dc.Fill()
		}
		if row.Dashed {
			dc.SetDash(4, 3)
		}
		dc.SetColor(row.Outline)
		dc.SetLineWidth(2)
		dc.DrawRectangle(x+legendPad, rowY, swatchSize, swatchSize)
		dc.Stroke()
		dc.SetDash() // reset

		dc.SetColor(color.Black)
		dc.DrawString(row.Label, x+legendPad+swatchSize+8, rowY+float64(rowH)-4)
		rowY += float64(rowH + rowGap)
	}

	return panelH, nil
}

// ComposeBottomLeft draws the legend in the bottom-left corner with the
// scale bar directly above it, and returns the composited image. Either
// element may be nil/empty to skip it.
func (c *Compositor) ComposeBottomLeft(img image.Image, bar *BarChoice, barStyle BarStyle, rows []LegendRow) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	h := float64(dc.Height())

	var legendH float64
	if len(rows) > 0 {
		// Measure by drawing onto a scratch context first so the legend
		// can be anchored to the bottom edge.
		scratch := gg.NewContext(dc.Width(), dc.Height())
		measured, err := c.DrawLegend(scratch, 0, 0, rows)
		if err != nil {
			return dc.Image(), err
		}
		legendH = measured

		if _, err := c.DrawLegend(dc, panelMargin, h-panelMargin-legendH, rows); err != nil {
			return dc.Image(), err
		}
	}

	if bar != nil {
		barBlockH := float64(barHeight) + 26 // bar plus label strip
		barY := h - panelMargin - barBlockH
		if legendH > 0 {
			barY = h - panelMargin - legendH - panelGap - barBlockH
		}
		if err := c.DrawScaleBar(dc, panelMargin, barY, *bar, barStyle); err != nil {
			return dc.Image(), err
		}
	}

	return dc.Image(), nil
}

// PolygonOverlay is a polygon drawn onto a locally fetched basemap.
type PolygonOverlay struct {
	Ring    orb.Ring
	Fill    color.Color // nil for outline-only
	Outline color.Color
	Width   float64
	Dashed  bool
}

// DrawMarker draws a filled circle marker with a contrasting outline at
// the given lon/lat position and returns the annotated image.
func (c *Compositor) DrawMarker(img image.Image, extent orb.Bound, pt orb.Point,
	fill, outline color.Color, radius float64) (image.Image, error) {

	if radius <= 0 {
		return img, &CompositingError{Element: "marker",
			Err: fmt.Errorf("marker radius must be positive, got %g", radius)}
	}
	dc := gg.NewContextForImage(img)
	px, py := geo.LonLatToPixel(pt[0], pt[1], extent, dc.Width(), dc.Height())

	dc.DrawCircle(px, py, radius)
	dc.SetColor(fill)
	dc.FillPreserve()
	dc.SetColor(outline)
	dc.SetLineWidth(1.5)
	dc.Stroke()
	return dc.Image(), nil
}

// DrawPolygonOverlays draws overlays onto a basemap image using the linear
// extent-to-pixel mapping, and returns the annotated image.
func (c *Compositor) DrawPolygonOverlays(img image.Image, extent orb.Bound, overlays []PolygonOverlay) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	w, h := dc.Width(), dc.Height()

	for _, ov := range overlays {
		if len(ov.Ring) < 3 {
			return dc.Image(), &CompositingError{Element: "overlay",
				Err: fmt.Errorf("polygon overlay needs at least 3 vertices, got %d", len(ov.Ring))}
		}

		dc.NewSubPath()
		for i, v := range ov.Ring {
			px, py := geo.LonLatToPixel(v[0], v[1], extent, w, h)
			if i == 0 {
				dc.MoveTo(px, py)
			} else {
				dc.LineTo(px, py)
			}
		}
		dc.ClosePath()

		if ov.Fill != nil {
			dc.SetColor(ov.Fill)
			dc.FillPreserve()
		}
		if ov.Dashed {
			dc.SetDash(6, 4)
		}
		dc.SetColor(ov.Outline)
		dc.SetLineWidth(ov.Width)
		dc.Stroke()
		dc.SetDash()
	}

	return dc.Image(), nil
}
