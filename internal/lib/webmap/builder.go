// Package webmap assembles declarative export-web-map requests. It is a
// pure transform: no network calls, no shared state.
package webmap

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// Stable operational layer ids. The legend references layers by id, so
// these must not change between builds.
const (
	SiteLayerID   = "siteBoundary"
	CircleLayerID = "bufferCircle"
	MarkerLayerID = "pointMarker"
)

// PolygonStyle bundles the symbology for one polygon overlay.
type PolygonStyle struct {
	Fill         Color
	NoFill       bool // render outline only (fill alpha forced to 0)
	Outline      Color
	OutlineWidth float64
	Dashed       bool
}

// MarkerStyle bundles the symbology for a point marker overlay.
type MarkerStyle struct {
	Color        Color
	Size         float64
	Outline      Color
	OutlineWidth float64
}

// Builder accumulates layers and options for one web-map request. Build
// fresh per export call; a Builder is not safe for concurrent use.
type Builder struct {
	extent orb.Bound
	wkid   int

	width  int
	height int
	dpi    int

	layers       []OperationalLayer
	legendLayers []LegendLayer

	layout *LayoutOptions
}

// NewBuilder creates a builder for a map covering extent in the given
// spatial reference.
func NewBuilder(extent orb.Bound, wkid int) *Builder {
	return &Builder{extent: extent, wkid: wkid, width: 1100, height: 850, dpi: 96}
}

// SetExportSize sets the output pixel dimensions and DPI.
func (b *Builder) SetExportSize(width, height, dpi int) *Builder {
	b.width, b.height, b.dpi = width, height, dpi
	return b
}

// SetBasemap prepends the base-layer reference. Tiled services declare a
// tiled client layer type, dynamic ones a map-service layer type.
func (b *Builder) SetBasemap(serviceURL string, tiled bool) *Builder {
	layerType := LayerTypeDynamic
	if tiled {
		layerType = LayerTypeTiled
	}
	basemap := OperationalLayer{
		ID:        "basemap",
		URL:       serviceURL,
		LayerType: layerType,
		Opacity:   1,
	}
	// Basemap renders underneath, so it goes first. It is intentionally
	// never added to legendLayers.
	b.layers = append([]OperationalLayer{basemap}, b.layers...)
	return b
}

// AddPolygon appends a polygon overlay with the given id, legend title and
// symbology.
func (b *Builder) AddPolygon(id, title string, ring orb.Ring, style PolygonStyle) *Builder {
	b.layers = append(b.layers, OperationalLayer{
		ID:    id,
		Title: title,
		FeatureCollection: &FeatureCollection{
			Layers: []FeatureLayer{{
				LayerDefinition: LayerDefinition{Name: title, GeometryType: "esriGeometryPolygon"},
				FeatureSet: FeatureSet{
					GeometryType: "esriGeometryPolygon",
					Features: []Feature{{
						Geometry: PolygonGeometry{
							Rings:            [][][]float64{ringToCoords(ring)},
							SpatialReference: SpatialReference{WKID: b.wkid},
						},
						Symbol: fillSymbol(style),
					}},
				},
			}},
		},
	})
	b.legendLayers = append(b.legendLayers, LegendLayer{ID: id})
	return b
}

// AddMarker appends a single-feature point marker overlay.
func (b *Builder) AddMarker(id, title string, point orb.Point, style MarkerStyle) *Builder {
	b.layers = append(b.layers, OperationalLayer{
		ID:    id,
		Title: title,
		FeatureCollection: &FeatureCollection{
			Layers: []FeatureLayer{{
				LayerDefinition: LayerDefinition{Name: title, GeometryType: "esriGeometryPoint"},
				FeatureSet: FeatureSet{
					GeometryType: "esriGeometryPoint",
					Features: []Feature{{
						Geometry: PointGeometry{
							X:                point[0],
							Y:                point[1],
							SpatialReference: SpatialReference{WKID: b.wkid},
						},
						Symbol: SimpleMarkerSymbol{
							Type:  "esriSMS",
							Style: markerCircle,
							Color: style.Color,
							Size:  style.Size,
							Outline: &SimpleLineSymbol{
								Type:  "esriSLS",
								Style: lineSolid,
								Color: style.Outline,
								Width: style.OutlineWidth,
							},
						},
					}},
				},
			}},
		},
	})
	b.legendLayers = append(b.legendLayers, LegendLayer{ID: id})
	return b
}

// SetLayout enables template mode with a title and, optionally, a legend
// restricted to the user-added overlays.
func (b *Builder) SetLayout(titleText string, includeLegend bool) *Builder {
	b.layout = &LayoutOptions{TitleText: titleText}
	if includeLegend {
		b.layout.LegendOptions = &LegendOptions{OperationalLayers: b.legendLayers}
	}
	return b
}

// Build assembles the immutable WebMap specification.
func (b *Builder) Build() *WebMap {
	sr := SpatialReference{WKID: b.wkid}
	w := &WebMap{
		MapOptions: MapOptions{
			Extent: Extent{
				XMin:             b.extent.Min[0],
				YMin:             b.extent.Min[1],
				XMax:             b.extent.Max[0],
				YMax:             b.extent.Max[1],
				SpatialReference: sr,
			},
			SpatialReference: sr,
		},
		OperationalLayers: b.layers,
		ExportOptions: ExportOptions{
			OutputSize: []int{b.width, b.height},
			DPI:        b.dpi,
		},
	}
	if b.layout != nil {
		// Legend layer list is snapshotted at SetLayout time; re-apply
		// so layers added afterwards are still listed.
		if b.layout.LegendOptions != nil {
			b.layout.LegendOptions.OperationalLayers = b.legendLayers
		}
		w.LayoutOptions = b.layout
	}
	return w
}

// JSON serializes the web map for the Web_Map_as_JSON form field.
func (w *WebMap) JSON() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to serialize web map: %w", err)
	}
	return string(data), nil
}

func fillSymbol(style PolygonStyle) SimpleFillSymbol {
	fill := style.Fill
	fillStyle := fillSolid
	if style.NoFill {
		fill[3] = 0
		fillStyle = fillNull
	}

	outlineStyle := lineSolid
	if style.Dashed {
		outlineStyle = lineDash
	}

	return SimpleFillSymbol{
		Type:  "esriSFS",
		Style: fillStyle,
		Color: fill,
		Outline: &SimpleLineSymbol{
			Type:  "esriSLS",
			Style: outlineStyle,
			Color: style.Outline,
			Width: style.OutlineWidth,
		},
	}
}

func ringToCoords(ring orb.Ring) [][]float64 {
	coords := make([][]float64, len(ring))
	for i, p := range ring {
		coords[i] = []float64{p[0], p[1]}
	}
	return coords
}
