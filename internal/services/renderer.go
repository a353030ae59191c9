package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // exported basemaps may come back as jpg
	"image/png"
	"strings"

	"github.com/paulmach/orb"

	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/lib/geo"
	"github.com/terracarta/mapengine/internal/lib/overlay"
	"github.com/terracarta/mapengine/internal/lib/webmap"
)

// RenderInput carries everything a renderer needs to produce the final
// artifact bytes. The extent is WGS84; renderers translate as needed.
type RenderInput struct {
	Extent orb.Bound
	Width  int
	Height int
	DPI    int
	Format string

	Site   orb.Ring
	Circle orb.Ring // nil when no buffer circle was requested
	Marker *geo.Point

	Style            ResolvedStyle
	ScaleDenominator float64
	IncludeLegend    bool
	IncludeScaleBar  bool
	ScaleBarStyle    overlay.BarStyle
}

// RenderOutput is the rendered artifact plus what actually made it onto
// the image. Compositing failures degrade: the map is still returned
// with the corresponding flag false.
type RenderOutput struct {
	Data          []byte
	Format        string
	LegendDrawn   bool
	ScaleBarDrawn bool
}

// MapRenderer renders one export request into artifact bytes.
type MapRenderer interface {
	Render(ctx context.Context, in RenderInput) (RenderOutput, error)
}

// LocalRenderer fetches a basemap image from the service's /export
// endpoint and draws overlays, scale bar, and legend itself.
type LocalRenderer struct {
	export     *arcgis.ExportClient
	compositor *overlay.Compositor
}

// NewLocalRenderer creates a renderer for the given export client.
func NewLocalRenderer(export *arcgis.ExportClient, compositor *overlay.Compositor) *LocalRenderer {
	return &LocalRenderer{export: export, compositor: compositor}
}

func (r *LocalRenderer) Render(ctx context.Context, in RenderInput) (RenderOutput, error) {
	data, err := r.export.ExportImage(ctx, arcgis.ExportImageRequest{
		Extent:      in.Extent,
		ExtentWKID:  4326,
		ImageWKID:   4326,
		Width:       in.Width,
		Height:      in.Height,
		DPI:         in.DPI,
		Format:      exportImageFormat(in.Format),
		Transparent: false,
	})
	if err != nil {
		return RenderOutput{}, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RenderOutput{}, &arcgis.ExportResultError{
			URL: "", Err: fmt.Errorf("failed to decode exported image: %w", err),
		}
	}

	img, err = r.compositor.DrawPolygonOverlays(img, in.Extent, buildOverlays(in))
	if err != nil {
		return RenderOutput{}, err
	}
	if in.Marker != nil {
		img, err = r.compositor.DrawMarker(img, in.Extent, in.Marker.Orb(),
			in.Style.Outline, in.Style.Outline, 6)
		if err != nil {
			return RenderOutput{}, err
		}
	}

	out := RenderOutput{Format: "png"}
	img, out.LegendDrawn, out.ScaleBarDrawn = composite(r.compositor, img, in, false)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return RenderOutput{}, fmt.Errorf("failed to encode rendered map: %w", err)
	}
	out.Data = buf.Bytes()
	return out, nil
}

// RemoteTemplateRenderer submits a web-map print job and composites the
// legend and scale bar onto the returned artifact.
type RemoteTemplateRenderer struct {
	print      *arcgis.PrintClient
	compositor *overlay.Compositor

	serviceURL     string
	tiled          bool
	layoutTemplate string
}

// NewRemoteTemplateRenderer creates a renderer that dispatches to the
// given print task, using serviceURL as the basemap layer.
func NewRemoteTemplateRenderer(print *arcgis.PrintClient, compositor *overlay.Compositor,
	serviceURL string, tiled bool, layoutTemplate string) *RemoteTemplateRenderer {

	if layoutTemplate == "" {
		layoutTemplate = "MAP_ONLY"
	}
	return &RemoteTemplateRenderer{
		print:          print,
		compositor:     compositor,
		serviceURL:     serviceURL,
		tiled:          tiled,
		layoutTemplate: layoutTemplate,
	}
}

func (r *RemoteTemplateRenderer) Render(ctx context.Context, in RenderInput) (RenderOutput, error) {
	b := webmap.NewBuilder(in.Extent, 4326).
		SetExportSize(in.Width, in.Height, in.DPI).
		SetBasemap(r.serviceURL, r.tiled).
		AddPolygon(webmap.SiteLayerID, "Site Boundary", in.Site, in.Style.SitePolygonStyle())
	if len(in.Circle) > 0 {
		b.AddPolygon(webmap.CircleLayerID, "Buffer Circle", in.Circle, in.Style.CirclePolygonStyle())
	}
	if in.Marker != nil {
		b.AddMarker(webmap.MarkerLayerID, "Marker", in.Marker.Orb(), webmap.MarkerStyle{
			Color:        in.Style.SitePolygonStyle().Outline,
			Size:         10,
			Outline:      webmap.Color{255, 255, 255, 255},
			OutlineWidth: 1,
		})
	}
	// Legend and scale bar are composited locally after the print job,
	// so the layout only carries the title.
	b.SetLayout(in.Style.Title, false)

	webMapJSON, err := b.Build().JSON()
	if err != nil {
		return RenderOutput{}, fmt.Errorf("failed to serialize web map: %w", err)
	}

	artifactURL, err := r.print.Submit(ctx, webMapJSON, in.Format, r.layoutTemplate)
	if err != nil {
		return RenderOutput{}, err
	}
	data, err := r.print.FetchArtifact(ctx, artifactURL)
	if err != nil {
		return RenderOutput{}, err
	}

	out := RenderOutput{Data: data, Format: strings.ToLower(in.Format)}
	if !isRasterFormat(in.Format) {
		// Nothing to composite onto a PDF/EPS artifact.
		return out, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RenderOutput{}, &arcgis.ExportResultError{
			URL: artifactURL, Err: fmt.Errorf("failed to decode print artifact: %w", err),
		}
	}

	img, out.LegendDrawn, out.ScaleBarDrawn = composite(r.compositor, img, in, true)
	if out.LegendDrawn || out.ScaleBarDrawn {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return RenderOutput{}, fmt.Errorf("failed to encode composited map: %w", err)
		}
		out.Data = buf.Bytes()
		out.Format = "png"
	}
	return out, nil
}

// composite draws the requested legend and scale bar. Both elements are
// always anchored bottom-left with the bar above the legend; callers
// choose the bar style, not the position. Failures degrade to the
// unannotated image rather than failing the whole export. Bars
// composited onto a finished artifact use the wider pixel window so
// they stay legible at print sizes.
func composite(c *overlay.Compositor, img image.Image, in RenderInput, onArtifact bool) (image.Image, bool, bool) {
	var bar *overlay.BarChoice
	if in.IncludeScaleBar && in.ScaleDenominator > 0 {
		scale := overlay.ScaleInput{ScaleDenominator: in.ScaleDenominator}
		choose := overlay.ChooseScaleBarDistance
		if onArtifact {
			choose = overlay.ChooseCompositedScaleBar
		}
		if choice, err := choose(scale, in.Width, in.DPI); err == nil {
			bar = &choice
		}
	}

	var rows []overlay.LegendRow
	if in.IncludeLegend {
		rows = in.Style.LegendRows(len(in.Circle) > 0)
	}

	if bar == nil && len(rows) == 0 {
		return img, false, false
	}

	barStyle := in.ScaleBarStyle
	if barStyle == "" {
		barStyle = overlay.BarStyleClassic
	}
	annotated, err := c.ComposeBottomLeft(img, bar, barStyle, rows)
	if err != nil {
		return img, false, false
	}
	return annotated, len(rows) > 0, bar != nil
}

func buildOverlays(in RenderInput) []overlay.PolygonOverlay {
	overlays := []overlay.PolygonOverlay{{
		Ring:    in.Site,
		Fill:    fillOrNil(in.Style),
		Outline: in.Style.Outline,
		Width:   in.Style.OutlineWidth,
	}}
	if len(in.Circle) > 0 {
		overlays = append(overlays, overlay.PolygonOverlay{
			Ring:    in.Circle,
			Outline: in.Style.Outline,
			Width:   in.Style.OutlineWidth,
			Dashed:  in.Style.CircleDashed,
		})
	}
	return overlays
}

// exportImageFormat translates print-style format names to the /export
// endpoint's vocabulary.
func exportImageFormat(format string) string {
	switch strings.ToUpper(format) {
	case "", "PNG", "PNG8", "PNG24", "PNG32":
		return "png32"
	case "JPG", "JPEG":
		return "jpg"
	default:
		return "png32"
	}
}

func isRasterFormat(format string) bool {
	switch strings.ToUpper(format) {
	case "PDF", "SVG", "SVGZ", "EPS", "AI":
		return false
	default:
		return true
	}
}
