package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/terracarta/mapengine/internal/cache"
	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/config"
	"github.com/terracarta/mapengine/internal/lib/geo"
	"github.com/terracarta/mapengine/internal/lib/kmlout"
	"github.com/terracarta/mapengine/internal/lib/overlay"
)

// Stage identifies where in the export pipeline an error occurred.
type Stage string

const (
	StageResolvingDefaults Stage = "resolving_defaults"
	StageComputingExtent   Stage = "computing_extent"
	StageComputingScale    Stage = "computing_scale"
	StageDispatchingLocal  Stage = "dispatching_local"
	StageDispatchingRemote Stage = "dispatching_remote"
	StageCompositing       Stage = "compositing"
	StageWritingOutput     Stage = "writing_output"
)

// StageError wraps a pipeline failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("export failed while %s: %v", strings.ReplaceAll(string(e.Stage), "_", " "), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// MapRequest describes one export. Exactly one of Site, EncodedBoundary,
// or Point supplies the geometry. Zero-valued size and format fields fall
// back to the configured export defaults.
type MapRequest struct {
	Service string

	Site            orb.Ring
	EncodedBoundary string
	Point           *geo.Point

	BufferMiles       float64
	CircleRadiusMiles float64 // >0 draws a buffer circle around the site center
	AutoAdjustBuffer  bool

	Width  int
	Height int
	DPI    int
	Format string

	Style           StyleOptions
	IncludeLegend   bool
	IncludeScaleBar bool
	// ScaleBarStyle names one of the overlay bar styles (classic,
	// simple, modern); empty selects classic. Annotations always sit
	// bottom-left, with the bar above the legend.
	ScaleBarStyle string

	// TargetScaleDenominator forces the map scale instead of deriving
	// one from the service's LOD table or the extent's ground width.
	TargetScaleDenominator float64

	OutputPath string
	WriteKML   bool
}

// MapResult reports what was produced and which decisions were applied.
type MapResult struct {
	Path                    string
	KMLPath                 string
	Format                  string
	AppliedScaleDenominator float64
	LODLevel                int
	EffectiveBufferMiles    float64
	LegendDrawn             bool
	ScaleBarDrawn           bool
}

// Exporter orchestrates the export pipeline. Safe for concurrent use;
// metadata clients are created once per service and shared.
type Exporter struct {
	cfg        *config.Config
	kernel     geo.Kernel
	resolver   *ExtentResolver
	compositor *overlay.Compositor
	cache      *cache.Cache

	metadataFactory func(svc config.MapService) *arcgis.MetadataClient
	rendererFactory func(svc config.MapService) MapRenderer

	mu       sync.Mutex
	metadata map[string]*arcgis.MetadataClient
}

// NewExporter creates an Exporter wired to real HTTP clients.
func NewExporter(cfg *config.Config, kernel geo.Kernel, c *cache.Cache) (*Exporter, error) {
	compositor, err := overlay.NewCompositor()
	if err != nil {
		return nil, err
	}
	e := &Exporter{
		cfg:        cfg,
		kernel:     kernel,
		resolver:   NewExtentResolver(kernel),
		compositor: compositor,
		cache:      c,
		metadata:   make(map[string]*arcgis.MetadataClient),
	}
	requestClient := &http.Client{Timeout: cfg.Export.RequestTimeout.Std()}
	dispatchClient := &http.Client{Timeout: cfg.Export.DispatchTimeout.Std()}
	e.metadataFactory = func(svc config.MapService) *arcgis.MetadataClient {
		client := arcgis.NewMetadataClientWithHTTPDoer(svc.URL, requestClient)
		if cfg.Services.GeometryService != "" {
			client = client.WithProjector(
				arcgis.NewProjectClientWithHTTPDoer(cfg.Services.GeometryService, requestClient))
		}
		return client
	}
	e.rendererFactory = func(svc config.MapService) MapRenderer {
		if svc.PrintTaskURL != "" {
			return NewRemoteTemplateRenderer(
				arcgis.NewPrintClientWithHTTPDoer(svc.PrintTaskURL, dispatchClient),
				compositor, svc.URL, svc.Tiled, cfg.Export.LayoutTemplate)
		}
		return NewLocalRenderer(
			arcgis.NewExportClientWithHTTPDoer(svc.URL, dispatchClient), compositor)
	}
	return e, nil
}

// NewExporterWithFactories creates an Exporter with injected client and
// renderer factories, for tests.
func NewExporterWithFactories(cfg *config.Config, kernel geo.Kernel, c *cache.Cache,
	compositor *overlay.Compositor,
	metadataFactory func(svc config.MapService) *arcgis.MetadataClient,
	rendererFactory func(svc config.MapService) MapRenderer) *Exporter {

	return &Exporter{
		cfg:             cfg,
		kernel:          kernel,
		resolver:        NewExtentResolver(kernel),
		compositor:      compositor,
		cache:           c,
		metadata:        make(map[string]*arcgis.MetadataClient),
		metadataFactory: metadataFactory,
		rendererFactory: rendererFactory,
	}
}

// Export runs the full pipeline: resolve defaults, compute extent and
// scale, dispatch the render, and write the artifact atomically.
func (e *Exporter) Export(ctx context.Context, req MapRequest) (*MapResult, error) {
	log.Printf("Export requested for service %q", req.Service)

	// Resolving defaults
	svc, ok := e.cfg.Services.ServiceByName(req.Service)
	if !ok {
		return nil, &StageError{StageResolvingDefaults, fmt.Errorf("unknown service %q", req.Service)}
	}
	style, err := ResolveStyle(req.Style, e.cfg.Styles, svc.Name)
	if err != nil {
		return nil, &StageError{StageResolvingDefaults, err}
	}
	barStyle, err := overlay.ParseBarStyle(req.ScaleBarStyle)
	if err != nil {
		return nil, &StageError{StageResolvingDefaults, err}
	}
	if req.TargetScaleDenominator < 0 {
		return nil, &StageError{StageResolvingDefaults,
			fmt.Errorf("target scale denominator must be positive, got %g", req.TargetScaleDenominator)}
	}
	width, height, dpi := req.Width, req.Height, req.DPI
	if width <= 0 {
		width = e.cfg.Export.Width
	}
	if height <= 0 {
		height = e.cfg.Export.Height
	}
	if dpi <= 0 {
		dpi = e.cfg.Export.DPI
	}

	meta, err := e.metadataClient(ctx, svc)
	if err != nil {
		return nil, &StageError{StageResolvingDefaults, err}
	}
	preferred := []string{e.cfg.Export.Format}
	if req.Format != "" {
		preferred = []string{req.Format, e.cfg.Export.Format}
	}
	format, err := meta.ChooseExportFormat(ctx, preferred)
	if err != nil {
		return nil, &StageError{StageResolvingDefaults, err}
	}
	renderer := e.rendererFactory(svc)
	dispatchStage := StageDispatchingLocal
	if svc.PrintTaskURL != "" {
		dispatchStage = StageDispatchingRemote
	}

	// Computing extent
	site, circle, effectiveBuffer, err := e.resolveGeometry(req)
	if err != nil {
		return nil, &StageError{StageComputingExtent, err}
	}
	extent, err := e.resolver.ResolveExtent(site, effectiveBuffer, e.cfg.Export.MarginPercent/100)
	if err != nil {
		return nil, &StageError{StageComputingExtent, err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StageError{StageComputingExtent, err}
	}

	// Computing scale
	var lod arcgis.LOD
	if req.TargetScaleDenominator > 0 {
		lod = arcgis.LOD{
			Level:      arcgis.SyntheticLODLevel,
			Resolution: req.TargetScaleDenominator * 0.0254 / float64(dpi),
			Scale:      req.TargetScaleDenominator,
		}
		log.Printf("Using caller scale override 1:%.0f", lod.Scale)
	} else if lod, err = e.resolver.ResolveScale(ctx, meta, site, extent, width, dpi); err != nil {
		return nil, &StageError{StageComputingScale, err}
	} else if lod.Level == arcgis.SyntheticLODLevel {
		log.Printf("No LOD table; synthetic scale 1:%.0f", lod.Scale)
	} else {
		log.Printf("Snapped to LOD level %d (1:%.0f)", lod.Level, lod.Scale)
	}

	// Dispatching
	out, err := renderer.Render(ctx, RenderInput{
		Extent:           extent,
		Width:            width,
		Height:           height,
		DPI:              dpi,
		Format:           format,
		Site:             site,
		Circle:           circle,
		Marker:           req.Point,
		Style:            style,
		ScaleDenominator: lod.Scale,
		IncludeLegend:    req.IncludeLegend,
		IncludeScaleBar:  req.IncludeScaleBar,
		ScaleBarStyle:    barStyle,
	})
	if err != nil {
		stage := dispatchStage
		var compErr *overlay.CompositingError
		if errors.As(err, &compErr) {
			stage = StageCompositing
		}
		return nil, &StageError{stage, err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StageError{dispatchStage, err}
	}

	// Writing output
	path := req.OutputPath
	if path == "" {
		path = filepath.Join(e.cfg.Export.OutputDir,
			fmt.Sprintf("map_%s_%d.%s", svc.Name, time.Now().Unix(), out.Format))
	}
	if err := writeAtomic(path, out.Data); err != nil {
		return nil, &StageError{StageWritingOutput, err}
	}

	result := &MapResult{
		Path:                    path,
		Format:                  out.Format,
		AppliedScaleDenominator: lod.Scale,
		LODLevel:                lod.Level,
		EffectiveBufferMiles:    effectiveBuffer,
		LegendDrawn:             out.LegendDrawn,
		ScaleBarDrawn:           out.ScaleBarDrawn,
	}

	if req.WriteKML || e.cfg.Export.WriteKML {
		kmlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".kml"
		err := kmlout.WriteFile(kmlPath, kmlout.Overlay{
			Name:         style.Title,
			Site:         site,
			Circle:       circle,
			Marker:       req.Point,
			FillColor:    rgbaOf(style.Fill),
			OutlineColor: rgbaOf(style.Outline),
			OutlineWidth: style.OutlineWidth,
		})
		if err != nil {
			// The map itself succeeded; a sidecar failure is not fatal.
			log.Printf("KML sidecar failed: %v", err)
		} else {
			result.KMLPath = kmlPath
		}
	}

	log.Printf("Export complete: %s (1:%.0f)", path, lod.Scale)
	return result, nil
}

// resolveGeometry derives the site ring from whichever input the request
// carries, widens the buffer for the circle when asked, and builds the
// circle ring.
func (e *Exporter) resolveGeometry(req MapRequest) (orb.Ring, orb.Ring, float64, error) {
	var site orb.Ring
	switch {
	case len(req.Site) > 0:
		if err := geo.ValidateRing(req.Site); err != nil {
			return nil, nil, 0, err
		}
		site = req.Site
	case req.EncodedBoundary != "":
		ring, err := e.kernel.DecodeBoundary(req.EncodedBoundary)
		if err != nil {
			return nil, nil, 0, err
		}
		site = ring
	case req.Point != nil:
		radius := req.BufferMiles
		if radius <= 0 {
			radius = e.cfg.Export.BufferMiles
		}
		ring, err := e.kernel.CirclePolygon(*req.Point, radius, 64)
		if err != nil {
			return nil, nil, 0, err
		}
		site = ring
	default:
		return nil, nil, 0, &geo.InputGeometryError{Reason: "no site geometry provided"}
	}

	effectiveBuffer := req.BufferMiles
	if req.CircleRadiusMiles > 0 && req.AutoAdjustBuffer {
		if widened := req.CircleRadiusMiles * 1.2; effectiveBuffer < widened {
			log.Printf("Buffer widened from %.2f to %.2f miles to fit the circle",
				effectiveBuffer, widened)
			effectiveBuffer = widened
		}
	}

	var circle orb.Ring
	if req.CircleRadiusMiles > 0 {
		center := geo.FromOrb(site.Bound().Center())
		ring, err := e.kernel.CirclePolygon(center, req.CircleRadiusMiles, 64)
		if err != nil {
			return nil, nil, 0, err
		}
		circle = ring
	}

	return site, circle, effectiveBuffer, nil
}

// metadataClient returns the shared client for a service, priming its
// descriptor from the TTL cache so repeated exports skip the fetch.
func (e *Exporter) metadataClient(ctx context.Context, svc config.MapService) (*arcgis.MetadataClient, error) {
	e.mu.Lock()
	client, ok := e.metadata[svc.Name]
	if !ok {
		client = e.metadataFactory(svc)
		e.metadata[svc.Name] = client
	}
	e.mu.Unlock()

	if e.cache == nil {
		return client, nil
	}

	var desc arcgis.ServiceDescriptor
	err := e.cache.GetOrPopulate(ctx, "descriptor:"+svc.URL, e.cfg.Services.MetadataTTL.Std(), &desc,
		func(ctx context.Context) (interface{}, error) {
			return client.Refresh(ctx)
		})
	if err != nil {
		return nil, err
	}
	client.Prime(&desc)
	return client, nil
}

// writeAtomic writes to path+".part" and renames into place, so a failed
// or cancelled export leaves nothing behind.
func writeAtomic(path string, data []byte) error {
	part := path + ".part"
	if err := os.WriteFile(part, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return nil
}
