package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terracarta/mapengine/internal/cache"
	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/config"
	"github.com/terracarta/mapengine/internal/lib/geo"
	"github.com/terracarta/mapengine/internal/lib/overlay"
)

// fakeRenderer records render calls and returns canned output.
type fakeRenderer struct {
	calls int
	last  RenderInput
	out   RenderOutput
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, in RenderInput) (RenderOutput, error) {
	f.calls++
	f.last = in
	if f.err != nil {
		return RenderOutput{}, f.err
	}
	return f.out, nil
}

type testHarness struct {
	exporter  *Exporter
	renderer  *fakeRenderer
	cfg       *config.Config
	doerCalls *int
}

func newTestHarness(t *testing.T, fixture string) *testHarness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Export.OutputDir = t.TempDir()
	cfg.Services.Registry = []config.MapService{
		{Name: "test", URL: "https://example.com/arcgis/rest/services/Test/MapServer", Tiled: true},
	}

	doerCalls := 0
	renderer := &fakeRenderer{out: RenderOutput{
		Data:          []byte("rendered-map-bytes"),
		Format:        "png",
		LegendDrawn:   true,
		ScaleBarDrawn: true,
	}}
	compositor, err := overlay.NewCompositor()
	require.NoError(t, err)

	exporter := NewExporterWithFactories(cfg, geo.NewKernel(), cache.NewCache(), compositor,
		func(svc config.MapService) *arcgis.MetadataClient {
			return arcgis.NewMetadataClientWithHTTPDoer(svc.URL,
				stubDoer{handle: func(req *http.Request) (*http.Response, error) {
					doerCalls++
					return fixtureResponse(t, fixture), nil
				}})
		},
		func(svc config.MapService) MapRenderer { return renderer })

	return &testHarness{exporter: exporter, renderer: renderer, cfg: cfg, doerCalls: &doerCalls}
}

func TestExporter_Export(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")
	outPath := filepath.Join(t.TempDir(), "site.png")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:         "test",
		Site:            testSite,
		BufferMiles:     0.5,
		IncludeLegend:   true,
		IncludeScaleBar: true,
		OutputPath:      outPath,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered-map-bytes"), data)
	assert.NoFileExists(t, outPath+".part", "temp file should be renamed away")

	assert.Equal(t, outPath, result.Path)
	assert.Equal(t, "png", result.Format)
	assert.Equal(t, 0.5, result.EffectiveBufferMiles)
	assert.True(t, result.LegendDrawn)
	assert.True(t, result.ScaleBarDrawn)
	assert.Greater(t, result.AppliedScaleDenominator, 0.0)
	assert.GreaterOrEqual(t, result.LODLevel, 0, "tiled service should snap to a real LOD")

	require.Equal(t, 1, h.renderer.calls)
	assert.Equal(t, "PNG32", h.renderer.last.Format)
	assert.Equal(t, overlay.BarStyleClassic, h.renderer.last.ScaleBarStyle,
		"empty scale bar style should default to classic")
	assert.True(t, h.renderer.last.Extent.Contains(testSite[0]),
		"render extent should contain the site")
}

func TestExporter_ScaleBarStyleThreadsThrough(t *testing.T) {
	for _, style := range []string{"classic", "simple", "modern"} {
		t.Run(style, func(t *testing.T) {
			h := newTestHarness(t, "topo_service_pjson.json")

			_, err := h.exporter.Export(context.Background(), MapRequest{
				Service:         "test",
				Site:            testSite,
				IncludeScaleBar: true,
				ScaleBarStyle:   style,
			})
			require.NoError(t, err)
			assert.Equal(t, overlay.BarStyle(style), h.renderer.last.ScaleBarStyle)
		})
	}
}

func TestExporter_UnknownScaleBarStyleRejected(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{
		Service:       "test",
		Site:          testSite,
		ScaleBarStyle: "baroque",
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResolvingDefaults, stageErr.Stage)
	assert.Contains(t, err.Error(), "baroque")
	assert.Equal(t, 0, h.renderer.calls, "bad style should be rejected before dispatch")
}

func TestExporter_TargetScaleOverride(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:                "test",
		Site:                   testSite,
		IncludeScaleBar:        true,
		TargetScaleDenominator: 24000,
	})
	require.NoError(t, err)

	assert.Equal(t, 24000.0, result.AppliedScaleDenominator)
	assert.Equal(t, arcgis.SyntheticLODLevel, result.LODLevel,
		"an overridden scale is not a service LOD level")
	assert.Equal(t, 24000.0, h.renderer.last.ScaleDenominator,
		"scale bar should be sized from the overridden scale")
}

func TestExporter_NegativeTargetScaleRejected(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{
		Service:                "test",
		Site:                   testSite,
		TargetScaleDenominator: -24000,
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResolvingDefaults, stageErr.Stage)
	assert.Equal(t, 0, h.renderer.calls)
}

func TestExporter_CircleAutoWiden(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:           "test",
		Site:              testSite,
		BufferMiles:       0.5,
		CircleRadiusMiles: 1.0,
		AutoAdjustBuffer:  true,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.2, result.EffectiveBufferMiles, 1e-9,
		"0.5mi buffer should widen to 1.2x the 1mi circle radius")
	assert.Len(t, h.renderer.last.Circle, 65, "64-point circle ring plus closing vertex")
}

func TestExporter_CircleWithoutAutoAdjustKeepsBuffer(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:           "test",
		Site:              testSite,
		BufferMiles:       0.5,
		CircleRadiusMiles: 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, result.EffectiveBufferMiles)
}

func TestExporter_PointBufferInput(t *testing.T) {
	h := newTestHarness(t, "dynamic_service_pjson.json")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:     "test",
		Point:       &geo.Point{Latitude: 38.072, Longitude: -120.547},
		BufferMiles: 0.25,
	})
	require.NoError(t, err)

	assert.Len(t, h.renderer.last.Site, 65, "point input becomes a circle polygon site")
	require.NotNil(t, h.renderer.last.Marker)
	assert.Equal(t, 38.072, h.renderer.last.Marker.Latitude)
	assert.Equal(t, arcgis.SyntheticLODLevel, result.LODLevel,
		"dynamic service has no LOD table")
}

func TestExporter_DegeneratePolygonNeverDispatches(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{
		Service: "test",
		Site:    orb.Ring{{-120.55, 38.06}, {-120.54, 38.06}},
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageComputingExtent, stageErr.Stage)
	assert.ErrorIs(t, err, geo.ErrDegenerateGeometry)

	var geomErr *geo.InputGeometryError
	assert.ErrorAs(t, err, &geomErr)
	assert.Zero(t, h.renderer.calls, "degenerate input must be rejected before dispatch")
}

func TestExporter_NoGeometry(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{Service: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, geo.ErrDegenerateGeometry)
	assert.Zero(t, h.renderer.calls)
}

func TestExporter_UnknownService(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{Service: "nope", Site: testSite})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResolvingDefaults, stageErr.Stage)
	assert.Zero(t, h.renderer.calls)
}

func TestExporter_UnknownPreset(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	_, err := h.exporter.Export(context.Background(), MapRequest{
		Service: "test",
		Site:    testSite,
		Style:   StyleOptions{Preset: "neon"},
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResolvingDefaults, stageErr.Stage)
}

func TestExporter_DispatchFailureLeavesNoFile(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")
	h.renderer.err = &arcgis.ExportDispatchError{
		Leg: "export", URL: "https://example.com", Status: 503,
		Err: fmt.Errorf("service unavailable"),
	}
	outPath := filepath.Join(t.TempDir(), "site.png")

	_, err := h.exporter.Export(context.Background(), MapRequest{
		Service: "test", Site: testSite, OutputPath: outPath,
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDispatchingLocal, stageErr.Stage)

	var dispatchErr *arcgis.ExportDispatchError
	assert.ErrorAs(t, err, &dispatchErr)
	assert.NoFileExists(t, outPath)
	assert.NoFileExists(t, outPath+".part")
}

func TestExporter_CompositingFailureTagged(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")
	h.renderer.err = &overlay.CompositingError{Element: "legend", Err: fmt.Errorf("font broke")}

	_, err := h.exporter.Export(context.Background(), MapRequest{Service: "test", Site: testSite})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageCompositing, stageErr.Stage)
}

func TestExporter_CancelledContext(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outPath := filepath.Join(t.TempDir(), "site.png")
	_, err := h.exporter.Export(ctx, MapRequest{Service: "test", Site: testSite, OutputPath: outPath})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, outPath)
	assert.NoFileExists(t, outPath+".part")
}

func TestExporter_KMLSidecar(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")
	outPath := filepath.Join(t.TempDir(), "site.png")

	result, err := h.exporter.Export(context.Background(), MapRequest{
		Service:           "test",
		Site:              testSite,
		CircleRadiusMiles: 0.5,
		OutputPath:        outPath,
		WriteKML:          true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.KMLPath)
	assert.Equal(t, filepath.Join(filepath.Dir(outPath), "site.kml"), result.KMLPath)
	data, err := os.ReadFile(result.KMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Site Boundary")
	assert.Contains(t, string(data), "Buffer Circle")
}

func TestExporter_DescriptorFetchedOncePerService(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	for i := 0; i < 3; i++ {
		_, err := h.exporter.Export(context.Background(), MapRequest{Service: "test", Site: testSite})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, *h.doerCalls,
		"descriptor should come from the TTL cache after the first export")
}

func TestExporter_DefaultOutputPath(t *testing.T) {
	h := newTestHarness(t, "topo_service_pjson.json")

	result, err := h.exporter.Export(context.Background(), MapRequest{Service: "test", Site: testSite})
	require.NoError(t, err)

	assert.Equal(t, h.cfg.Export.OutputDir, filepath.Dir(result.Path))
	assert.FileExists(t, result.Path)

	entries, err := os.ReadDir(h.cfg.Export.OutputDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".part")
	}
}
