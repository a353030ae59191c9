package webmap

// Types in this package mirror the export-web-map JSON specification
// consumed by print services. Field names and tags follow the wire format.

// Color is an RGBA color with 0-255 channels, serialized as [r,g,b,a].
type Color [4]int

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Extent is the map's bounding envelope.
type Extent struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// WebMap is the full declarative map specification: the value serialized
// into the Web_Map_as_JSON form field.
type WebMap struct {
	MapOptions        MapOptions         `json:"mapOptions"`
	OperationalLayers []OperationalLayer `json:"operationalLayers"`
	ExportOptions     ExportOptions      `json:"exportOptions"`
	LayoutOptions     *LayoutOptions     `json:"layoutOptions,omitempty"`
}

// MapOptions holds the extent and spatial reference.
type MapOptions struct {
	Extent           Extent           `json:"extent"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// ExportOptions holds output size and DPI.
type ExportOptions struct {
	OutputSize []int `json:"outputSize"`
	DPI        int   `json:"dpi"`
}

// LayoutOptions holds template-mode directives. LegendOptions lists only
// user-added operational layers; cached basemaps have no meaningful
// per-feature legend and are deliberately excluded.
type LayoutOptions struct {
	TitleText     string         `json:"titleText,omitempty"`
	LegendOptions *LegendOptions `json:"legendOptions,omitempty"`
}

// LegendOptions restricts the legend to the named operational layers.
type LegendOptions struct {
	OperationalLayers []LegendLayer `json:"operationalLayers"`
}

// LegendLayer references one operational layer by id.
type LegendLayer struct {
	ID string `json:"id"`
}

// OperationalLayer is either a basemap service reference (URL + LayerType)
// or an ad-hoc feature collection overlay.
type OperationalLayer struct {
	ID                string             `json:"id"`
	Title             string             `json:"title,omitempty"`
	URL               string             `json:"url,omitempty"`
	LayerType         string             `json:"layerType,omitempty"`
	Opacity           float64            `json:"opacity,omitempty"`
	FeatureCollection *FeatureCollection `json:"featureCollection,omitempty"`
}

// Basemap layer types. Which one is declared depends on whether the remote
// service is tile-cached.
const (
	LayerTypeTiled   = "ArcGISTiledMapServiceLayer"
	LayerTypeDynamic = "ArcGISMapServiceLayer"
)

// FeatureCollection wraps the feature layers of an ad-hoc overlay.
type FeatureCollection struct {
	Layers []FeatureLayer `json:"layers"`
}

// FeatureLayer pairs a layer definition with its feature set.
type FeatureLayer struct {
	LayerDefinition LayerDefinition `json:"layerDefinition"`
	FeatureSet      FeatureSet      `json:"featureSet"`
}

// LayerDefinition names the layer and declares its geometry type.
type LayerDefinition struct {
	Name         string `json:"name"`
	GeometryType string `json:"geometryType"`
}

// FeatureSet holds the features of one layer.
type FeatureSet struct {
	GeometryType string    `json:"geometryType"`
	Features     []Feature `json:"features"`
}

// Feature is one geometry plus its symbology.
type Feature struct {
	Geometry   interface{}            `json:"geometry"`
	Symbol     interface{}            `json:"symbol"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// PolygonGeometry is an ESRI JSON polygon: rings of [x,y] vertices.
type PolygonGeometry struct {
	Rings            [][][]float64    `json:"rings"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// PointGeometry is an ESRI JSON point.
type PointGeometry struct {
	X                float64          `json:"x"`
	Y                float64          `json:"y"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// SimpleFillSymbol is an esriSFS polygon fill.
type SimpleFillSymbol struct {
	Type    string            `json:"type"` // always "esriSFS"
	Style   string            `json:"style"`
	Color   Color             `json:"color"`
	Outline *SimpleLineSymbol `json:"outline,omitempty"`
}

// SimpleLineSymbol is an esriSLS outline.
type SimpleLineSymbol struct {
	Type  string  `json:"type"` // always "esriSLS"
	Style string  `json:"style"`
	Color Color   `json:"color"`
	Width float64 `json:"width"`
}

// SimpleMarkerSymbol is an esriSMS point marker.
type SimpleMarkerSymbol struct {
	Type    string            `json:"type"` // always "esriSMS"
	Style   string            `json:"style"`
	Color   Color             `json:"color"`
	Size    float64           `json:"size"`
	Outline *SimpleLineSymbol `json:"outline,omitempty"`
}

// ESRI symbol style constants used by the builder.
const (
	fillSolid    = "esriSFSSolid"
	fillNull     = "esriSFSNull"
	lineSolid    = "esriSLSSolid"
	lineDash     = "esriSLSDash"
	markerCircle = "esriSMSCircle"
)
