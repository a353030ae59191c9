package services

import (
	"fmt"
	"image/color"

	"github.com/terracarta/mapengine/internal/config"
	"github.com/terracarta/mapengine/internal/lib/overlay"
	"github.com/terracarta/mapengine/internal/lib/webmap"
)

// StyleOptions carries the per-request style overrides. Nil/zero fields
// mean "not set" and fall through to the preset.
type StyleOptions struct {
	Preset       string
	FillColor    *[4]int
	OutlineColor *[4]int
	OutlineWidth float64
	CircleDashed *bool
	Title        string
}

// ResolvedStyle is the immutable result of style resolution. It is
// computed once per export and handed to both render paths.
type ResolvedStyle struct {
	Fill         color.NRGBA
	NoFill       bool
	Outline      color.NRGBA
	OutlineWidth float64
	CircleDashed bool
	Title        string
}

// ResolveStyle merges explicit options over a named preset over the
// configured default preset. serviceName seeds the auto title.
func ResolveStyle(opts StyleOptions, styles config.StylesConfig, serviceName string) (ResolvedStyle, error) {
	preset, ok := styles.PresetByName(opts.Preset)
	if !ok {
		if opts.Preset != "" {
			return ResolvedStyle{}, fmt.Errorf("unknown style preset %q", opts.Preset)
		}
		// No presets configured at all; fall back to a plain red style.
		preset = config.StylePreset{
			FillColor:    [4]int{255, 0, 0, 90},
			OutlineColor: [4]int{255, 0, 0, 255},
			OutlineWidth: 2,
			CircleDashed: true,
		}
	}

	fill := preset.FillColor
	if opts.FillColor != nil {
		fill = *opts.FillColor
	}
	outline := preset.OutlineColor
	if opts.OutlineColor != nil {
		outline = *opts.OutlineColor
	}
	width := preset.OutlineWidth
	if opts.OutlineWidth > 0 {
		width = opts.OutlineWidth
	}
	dashed := preset.CircleDashed
	if opts.CircleDashed != nil {
		dashed = *opts.CircleDashed
	}

	title := opts.Title
	if title == "" {
		title = "Site Map"
		if serviceName != "" {
			title = fmt.Sprintf("Site Map - %s", serviceName)
		}
	}

	return ResolvedStyle{
		Fill:         toNRGBA(fill),
		NoFill:       fill[3] == 0,
		Outline:      toNRGBA(outline),
		OutlineWidth: width,
		CircleDashed: dashed,
		Title:        title,
	}, nil
}

// SitePolygonStyle maps the resolved style onto the web-map symbology
// for the site boundary layer.
func (s ResolvedStyle) SitePolygonStyle() webmap.PolygonStyle {
	return webmap.PolygonStyle{
		Fill:         toWebmapColor(s.Fill),
		NoFill:       s.NoFill,
		Outline:      toWebmapColor(s.Outline),
		OutlineWidth: s.OutlineWidth,
	}
}

// CirclePolygonStyle maps the resolved style onto the buffer circle
// layer: outline only, dashed per the resolved flag.
func (s ResolvedStyle) CirclePolygonStyle() webmap.PolygonStyle {
	return webmap.PolygonStyle{
		NoFill:       true,
		Outline:      toWebmapColor(s.Outline),
		OutlineWidth: s.OutlineWidth,
		Dashed:       s.CircleDashed,
	}
}

// LegendRows builds the compositor legend entries for the overlays that
// are present on the map.
func (s ResolvedStyle) LegendRows(includeCircle bool) []overlay.LegendRow {
	rows := []overlay.LegendRow{
		{Label: "Site Boundary", Fill: fillOrNil(s), Outline: s.Outline},
	}
	if includeCircle {
		rows = append(rows, overlay.LegendRow{
			Label:   "Buffer Circle",
			Outline: s.Outline,
			Dashed:  s.CircleDashed,
		})
	}
	return rows
}

func fillOrNil(s ResolvedStyle) color.Color {
	if s.NoFill {
		return nil
	}
	return s.Fill
}

func toNRGBA(c [4]int) color.NRGBA {
	return color.NRGBA{R: clamp8(c[0]), G: clamp8(c[1]), B: clamp8(c[2]), A: clamp8(c[3])}
}

func toWebmapColor(c color.NRGBA) webmap.Color {
	return webmap.Color{int(c.R), int(c.G), int(c.B), int(c.A)}
}

func rgbaOf(c color.NRGBA) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
