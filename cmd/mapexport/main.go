package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/terracarta/mapengine/internal/cache"
	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/config"
	"github.com/terracarta/mapengine/internal/lib/geo"
	"github.com/terracarta/mapengine/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	kernel := geo.NewKernel()

	switch command {
	case "export":
		handleExport(kernel)
	case "inspect-service":
		handleInspectService()
	case "distance":
		handleDistance(kernel)
	case "destination":
		handleDestination(kernel)
	case "circle":
		handleCircle(kernel)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleExport(kernel geo.Kernel) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config (optional, defaults apply)")
	service := fs.String("service", "", "Registered service name to export from")
	geojsonPath := fs.String("geojson", "", "GeoJSON file with the site polygon")
	polyline := fs.String("polyline", "", "Encoded polyline site boundary")
	lat := fs.Float64("lat", 0, "Point latitude (with --buffer)")
	lng := fs.Float64("lng", 0, "Point longitude (with --buffer)")
	buffer := fs.Float64("buffer", 0, "Buffer in miles around the site")
	circleRadius := fs.Float64("circle", 0, "Draw a buffer circle with this radius in miles")
	autoAdjust := fs.Bool("auto-adjust", true, "Widen the buffer so the circle fits the extent")
	width := fs.Int("width", 0, "Image width in pixels (0 = config default)")
	height := fs.Int("height", 0, "Image height in pixels (0 = config default)")
	dpi := fs.Int("dpi", 0, "Output DPI (0 = config default)")
	format := fs.String("format", "", "Preferred image format (e.g. PNG32, PDF)")
	preset := fs.String("preset", "", "Style preset name")
	fill := fs.String("fill", "", "Fill color as r,g,b,a (overrides preset)")
	outline := fs.String("outline", "", "Outline color as r,g,b,a (overrides preset)")
	outlineWidth := fs.Float64("outline-width", 0, "Outline width in points")
	title := fs.String("title", "", "Map title (default derived from service)")
	legend := fs.Bool("legend", true, "Draw the legend")
	scalebar := fs.Bool("scalebar", true, "Draw the scale bar")
	scalebarStyle := fs.String("scalebar-style", "classic", "Scale bar style: classic, simple, or modern")
	targetScale := fs.Float64("scale", 0, "Force this map scale denominator (0 = derive from the service)")
	out := fs.String("out", "", "Output file path")
	kml := fs.Bool("kml", false, "Write a KML sidecar of the overlays")

	fs.Parse(os.Args[2:])

	if *service == "" {
		fmt.Println("Example usage:")
		fmt.Println("  mapexport export --service topo --geojson site.geojson --buffer 0.5 --out site.png")
		fmt.Println("  mapexport export --service topo --lat 38.0675 --lng -120.5436 --buffer 0.5 --circle 0.5")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	}

	req := services.MapRequest{
		Service:                *service,
		EncodedBoundary:        *polyline,
		BufferMiles:            *buffer,
		CircleRadiusMiles:      *circleRadius,
		AutoAdjustBuffer:       *autoAdjust,
		Width:                  *width,
		Height:                 *height,
		DPI:                    *dpi,
		Format:                 *format,
		IncludeLegend:          *legend,
		IncludeScaleBar:        *scalebar,
		ScaleBarStyle:          *scalebarStyle,
		TargetScaleDenominator: *targetScale,
		OutputPath:             *out,
		WriteKML:               *kml,
		Style: services.StyleOptions{
			Preset:       *preset,
			OutlineWidth: *outlineWidth,
			Title:        *title,
		},
	}

	if *geojsonPath != "" {
		ring, err := loadGeoJSONRing(*geojsonPath)
		if err != nil {
			log.Fatalf("Error reading GeoJSON: %v", err)
		}
		req.Site = ring
	}
	if *lat != 0 || *lng != 0 {
		req.Point = &geo.Point{Latitude: *lat, Longitude: *lng}
	}
	if *fill != "" {
		c, err := parseColor(*fill)
		if err != nil {
			log.Fatalf("Error parsing --fill: %v", err)
		}
		req.Style.FillColor = &c
	}
	if *outline != "" {
		c, err := parseColor(*outline)
		if err != nil {
			log.Fatalf("Error parsing --outline: %v", err)
		}
		req.Style.OutlineColor = &c
	}

	exporter, err := services.NewExporter(cfg, kernel, cache.NewCache())
	if err != nil {
		log.Fatalf("Error creating exporter: %v", err)
	}

	result, err := exporter.Export(context.Background(), req)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	fmt.Printf("Export complete:\n")
	fmt.Printf("  Artifact: %s (%s)\n", result.Path, result.Format)
	fmt.Printf("  Scale: 1:%.0f", result.AppliedScaleDenominator)
	if result.LODLevel >= 0 {
		fmt.Printf(" (LOD level %d)\n", result.LODLevel)
	} else {
		fmt.Printf(" (synthetic)\n")
	}
	fmt.Printf("  Effective buffer: %.2f miles\n", result.EffectiveBufferMiles)
	fmt.Printf("  Legend: %v, Scale bar: %v\n", result.LegendDrawn, result.ScaleBarDrawn)
	if result.KMLPath != "" {
		fmt.Printf("  KML sidecar: %s\n", result.KMLPath)
	}
}

func handleInspectService() {
	fs := flag.NewFlagSet("inspect-service", flag.ExitOnError)
	url := fs.String("url", "", "Map service URL")

	fs.Parse(os.Args[2:])

	if *url == "" {
		fmt.Println("Example usage:")
		fmt.Println("  mapexport inspect-service --url https://services.arcgisonline.com/arcgis/rest/services/USA_Topo_Maps/MapServer")
		os.Exit(1)
	}

	client := arcgis.NewMetadataClient(*url)
	desc, err := client.Descriptor(context.Background())
	if err != nil {
		log.Fatalf("Error fetching service descriptor: %v", err)
	}

	fmt.Printf("Service: %s\n", *url)
	fmt.Printf("  Spatial reference: %d\n", desc.WKID())
	fmt.Printf("  Image formats: %s\n", strings.Join(desc.SupportedFormatList(), ", "))

	lods := desc.LODs()
	if len(lods) == 0 {
		fmt.Println("  No LOD table (dynamic service)")
		return
	}
	fmt.Printf("  LOD table (%d levels):\n", len(lods))
	for _, lod := range lods {
		fmt.Printf("    level %2d  resolution %12.6f  scale 1:%.0f\n",
			lod.Level, lod.Resolution, lod.Scale)
	}
}

func handleDistance(kernel geo.Kernel) {
	fs := flag.NewFlagSet("distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")

	fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  mapexport distance --lat1 38.0675 --lng1 -120.5436 --lat2 38.1391 --lng2 -120.4561")
		os.Exit(1)
	}

	p1 := geo.Point{Latitude: *lat1, Longitude: *lng1}
	p2 := geo.Point{Latitude: *lat2, Longitude: *lng2}

	distance, err := kernel.Inverse(p1, p2)
	if err != nil {
		log.Fatalf("Error calculating distance: %v", err)
	}

	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
	fmt.Printf("  Distance: %.2f meters (%.2f km, %.2f miles)\n",
		distance, distance/1000, distance/geo.MetersPerMile)
}

func handleDestination(kernel geo.Kernel) {
	fs := flag.NewFlagSet("destination", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Origin latitude")
	lng := fs.Float64("lng", 0, "Origin longitude")
	distance := fs.Float64("distance", 0, "Distance in meters")
	bearing := fs.Float64("bearing", 0, "Initial bearing in degrees")

	fs.Parse(os.Args[2:])

	if *lat == 0 && *lng == 0 && *distance == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  mapexport destination --lat 38.0675 --lng -120.5436 --distance 1609.34 --bearing 45")
		os.Exit(1)
	}

	dest, reverse, err := kernel.Destination(geo.Point{Latitude: *lat, Longitude: *lng}, *distance, *bearing)
	if err != nil {
		log.Fatalf("Error computing destination: %v", err)
	}

	fmt.Printf("Destination:\n")
	fmt.Printf("  Point: (%.6f, %.6f)\n", dest.Latitude, dest.Longitude)
	fmt.Printf("  Reverse bearing: %.2f degrees\n", reverse)
}

func handleCircle(kernel geo.Kernel) {
	fs := flag.NewFlagSet("circle", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Center latitude")
	lng := fs.Float64("lng", 0, "Center longitude")
	radius := fs.Float64("radius", 0, "Radius in miles")
	points := fs.Int("points", 64, "Number of circle vertices")

	fs.Parse(os.Args[2:])

	if *radius == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  mapexport circle --lat 38.0675 --lng -120.5436 --radius 0.5")
		os.Exit(1)
	}

	ring, err := kernel.CirclePolygon(geo.Point{Latitude: *lat, Longitude: *lng}, *radius, *points)
	if err != nil {
		log.Fatalf("Error building circle: %v", err)
	}

	fmt.Printf("Circle polygon (%d vertices, closed):\n", len(ring))
	for _, v := range ring {
		fmt.Printf("  %.6f,%.6f\n", v[1], v[0])
	}
}

// loadGeoJSONRing reads the first polygon ring out of a GeoJSON file,
// accepting a Feature, FeatureCollection, or bare geometry.
func loadGeoJSONRing(path string) (orb.Ring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		return ringFromGeometry(fc.Features[0].Geometry)
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil {
		return ringFromGeometry(f.Geometry)
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("not a GeoJSON feature collection, feature, or geometry: %w", err)
	}
	return ringFromGeometry(g.Geometry())
}

func ringFromGeometry(g orb.Geometry) (orb.Ring, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil, fmt.Errorf("polygon has no rings")
		}
		return geom[0], nil
	case orb.MultiPolygon:
		if len(geom) == 0 || len(geom[0]) == 0 {
			return nil, fmt.Errorf("multipolygon has no rings")
		}
		return geom[0][0], nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T, need a polygon", g)
	}
}

// parseColor parses "r,g,b" or "r,g,b,a" channel values.
func parseColor(s string) ([4]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return [4]int{}, fmt.Errorf("expected r,g,b or r,g,b,a, got %q", s)
	}
	var c [4]int
	c[3] = 255
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return [4]int{}, fmt.Errorf("channel %d out of range in %q", i, s)
		}
		c[i] = v
	}
	return c, nil
}

func printUsage() {
	fmt.Println("Map export tool")
	fmt.Println()
	fmt.Println("Usage: mapexport <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  export           Export a styled site map from a registered service")
	fmt.Println("  inspect-service  Print a map service's formats, spatial reference, and LODs")
	fmt.Println("  distance         Geodesic distance between two points")
	fmt.Println("  destination      Geodesic destination from a point, distance, and bearing")
	fmt.Println("  circle           Geodesic circle polygon around a point")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Run a command without flags for example usage.")
}
