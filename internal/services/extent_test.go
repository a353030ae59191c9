package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/lib/geo"
	"github.com/terracarta/mapengine/internal/lib/overlay"
)

// Square site near Angels Camp, CA. Matches the coordinates used in the
// client fixtures so scale expectations line up.
var testSite = orb.Ring{
	{-120.55298, 38.06846},
	{-120.54122, 38.06846},
	{-120.54122, 38.07602},
	{-120.55298, 38.07602},
	{-120.55298, 38.06846},
}

// stubDoer serves canned responses keyed by a request-matching func.
type stubDoer struct {
	handle func(req *http.Request) (*http.Response, error)
}

func (s stubDoer) Do(req *http.Request) (*http.Response, error) {
	return s.handle(req)
}

func fixtureResponse(t *testing.T, filename string) *http.Response {
	t.Helper()
	data, err := os.ReadFile("../../tests/testdata/arcgis/" + filename)
	require.NoError(t, err, "failed to load test fixture %s", filename)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func pjsonClient(t *testing.T, fixture string) *arcgis.MetadataClient {
	t.Helper()
	return arcgis.NewMetadataClientWithHTTPDoer("https://example.com/arcgis/rest/services/Test/MapServer",
		stubDoer{handle: func(req *http.Request) (*http.Response, error) {
			return fixtureResponse(t, fixture), nil
		}})
}

func TestResolveExtent_ZeroMarginMatchesBufferBox(t *testing.T) {
	kernel := geo.NewKernel()
	resolver := NewExtentResolver(kernel)

	got, err := resolver.ResolveExtent(testSite, 0, 0)
	require.NoError(t, err)

	// Zero buffer and zero margin must reproduce the ring's own bbox.
	want := testSite.Bound()
	assert.InDelta(t, want.Min[0], got.Min[0], 1e-9)
	assert.InDelta(t, want.Min[1], got.Min[1], 1e-9)
	assert.InDelta(t, want.Max[0], got.Max[0], 1e-9)
	assert.InDelta(t, want.Max[1], got.Max[1], 1e-9)
}

func TestResolveExtent_MarginInflationExact(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())

	base, err := resolver.ResolveExtent(testSite, 0.5, 0)
	require.NoError(t, err)
	inflated, err := resolver.ResolveExtent(testSite, 0.5, 0.10)
	require.NoError(t, err)

	baseW := base.Max[0] - base.Min[0]
	baseH := base.Max[1] - base.Min[1]
	assert.InDelta(t, baseW*1.10, inflated.Max[0]-inflated.Min[0], 1e-12,
		"10%% margin should widen the extent by exactly 10%%")
	assert.InDelta(t, baseH*1.10, inflated.Max[1]-inflated.Min[1], 1e-12)

	// Same center before and after inflation.
	assert.InDelta(t, (base.Min[0]+base.Max[0])/2, (inflated.Min[0]+inflated.Max[0])/2, 1e-12)
	assert.InDelta(t, (base.Min[1]+base.Max[1])/2, (inflated.Min[1]+inflated.Max[1])/2, 1e-12)
}

func TestResolveExtent_ContainsSiteVertices(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())

	extent, err := resolver.ResolveExtent(testSite, 0.5, 0.10)
	require.NoError(t, err)
	for _, v := range testSite {
		assert.True(t, extent.Contains(v), "buffered extent should contain vertex %v", v)
	}
}

func TestResolveExtent_RejectsNegativeMargin(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())
	_, err := resolver.ResolveExtent(testSite, 0.5, -0.1)
	assert.Error(t, err)
}

func TestResolveScale_LODPath(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())
	meta := pjsonClient(t, "topo_service_pjson.json")

	lod, err := resolver.ResolveScale(context.Background(), meta, testSite, testSite.Bound(), 800, 96)
	require.NoError(t, err)

	assert.Equal(t, 17, lod.Level, "an ~1km wide site at 800px should snap to level 17")
	assert.InDelta(t, 4513.988705, lod.Scale, 0.01)
}

func TestResolveScale_SyntheticPath(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())
	meta := pjsonClient(t, "dynamic_service_pjson.json")

	lod, err := resolver.ResolveScale(context.Background(), meta, testSite, testSite.Bound(), 800, 96)
	require.NoError(t, err)

	assert.Equal(t, arcgis.SyntheticLODLevel, lod.Level)
	// ~1032m ground width over 800px at 96dpi.
	assert.InDelta(t, 4875.1, lod.Scale, 1.0)
	assert.InDelta(t, 1.2899, lod.Resolution, 0.001)
}

func TestResolveScale_FallbackEquivalence(t *testing.T) {
	// A service without a LOD table must feed the scale bar chooser the
	// same way a tiled service does: for this site both paths land on
	// the same bar distance.
	resolver := NewExtentResolver(geo.NewKernel())

	tiled, err := resolver.ResolveScale(context.Background(),
		pjsonClient(t, "topo_service_pjson.json"), testSite, testSite.Bound(), 800, 96)
	require.NoError(t, err)
	synthetic, err := resolver.ResolveScale(context.Background(),
		pjsonClient(t, "dynamic_service_pjson.json"), testSite, testSite.Bound(), 800, 96)
	require.NoError(t, err)

	barTiled, err := overlay.ChooseScaleBarDistance(
		overlay.ScaleInput{ScaleDenominator: tiled.Scale}, 800, 96)
	require.NoError(t, err)
	barSynthetic, err := overlay.ChooseScaleBarDistance(
		overlay.ScaleInput{ScaleDenominator: synthetic.Scale}, 800, 96)
	require.NoError(t, err)

	assert.Equal(t, barTiled.Miles, barSynthetic.Miles,
		"LOD and synthetic scales should choose the same bar distance")
	assert.Equal(t, 0.1, barSynthetic.Miles)
}

func TestResolveScale_RejectsBadDimensions(t *testing.T) {
	resolver := NewExtentResolver(geo.NewKernel())
	meta := pjsonClient(t, "topo_service_pjson.json")

	_, err := resolver.ResolveScale(context.Background(), meta, testSite, testSite.Bound(), 0, 96)
	assert.Error(t, err)
	_, err = resolver.ResolveScale(context.Background(), meta, testSite, testSite.Bound(), 800, 0)
	assert.Error(t, err)
}
