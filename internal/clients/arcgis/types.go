package arcgis

import "strings"

// ServiceDescriptor represents the JSON descriptor returned by a map
// service's root endpoint (?f=pjson).
type ServiceDescriptor struct {
	CurrentVersion   float64 `json:"currentVersion"`
	MapName          string  `json:"mapName"`
	Description      string  `json:"serviceDescription"`
	SupportedFormats string  `json:"supportedImageFormatTypes"`
	SingleFusedCache bool    `json:"singleFusedMapCache"`

	SpatialReference *SpatialReference `json:"spatialReference"`
	FullExtent       *Extent           `json:"fullExtent"`
	InitialExtent    *Extent           `json:"initialExtent"`
	TileInfo         *TileInfo         `json:"tileInfo"`

	Error *serviceError `json:"error"`
}

// SupportedFormatList splits the comma-separated format string into a slice.
func (d *ServiceDescriptor) SupportedFormatList() []string {
	if d.SupportedFormats == "" {
		return nil
	}
	parts := strings.Split(d.SupportedFormats, ",")
	formats := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			formats = append(formats, f)
		}
	}
	return formats
}

// LODs returns the service's level-of-detail table, empty for dynamic
// (non-cached) services.
func (d *ServiceDescriptor) LODs() []LOD {
	if d.TileInfo == nil {
		return nil
	}
	return d.TileInfo.LODs
}

// WKID returns the service's native spatial reference, defaulting to WGS84
// when the descriptor omits one.
func (d *ServiceDescriptor) WKID() int {
	if d.SpatialReference == nil {
		return 4326
	}
	if d.SpatialReference.LatestWKID != 0 {
		return d.SpatialReference.LatestWKID
	}
	return d.SpatialReference.WKID
}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

// Extent is an axis-aligned envelope in a declared spatial reference.
type Extent struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// TileInfo describes a cached service's tiling scheme.
type TileInfo struct {
	Rows int   `json:"rows"`
	Cols int   `json:"cols"`
	DPI  int   `json:"dpi"`
	LODs []LOD `json:"lods"`
}

// LOD is one zoom tier of a cached map service: a resolution in
// meters/pixel and the equivalent cartographic scale denominator.
//
// Level -1 marks a synthesized record for services with no LOD table.
type LOD struct {
	Level      int     `json:"level"`
	Resolution float64 `json:"resolution"`
	Scale      float64 `json:"scale"`
	Name       string  `json:"name,omitempty"`
}

// SyntheticLODLevel is the sentinel level for scale records derived from
// geodesic width rather than a service LOD table.
const SyntheticLODLevel = -1

// serviceError is the error payload embedded in otherwise-200 responses.
type serviceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// printJobResponse represents a synchronous geoprocessing execute response
// from an export-web-map print task.
type printJobResponse struct {
	Results []printJobResult `json:"results"`
	// Some servers return the artifact location at the top level instead.
	URL   string        `json:"url"`
	Error *serviceError `json:"error"`
}

type printJobResult struct {
	ParamName string        `json:"paramName"`
	Value     printJobValue `json:"value"`
}

type printJobValue struct {
	URL string `json:"url"`
}

// projectResponse represents a geometry service /project response.
type projectResponse struct {
	Geometries []Extent      `json:"geometries"`
	Error      *serviceError `json:"error"`
}
