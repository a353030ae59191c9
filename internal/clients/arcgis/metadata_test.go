package arcgis

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// Helper function to load test fixture data
func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("../../../tests/testdata/arcgis/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, contentType, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     header,
	}
}

// Test site: small parcel box near Ceiba, Puerto Rico, 0.01 degrees across.
var testSite = orb.Ring{
	{-65.9308, 18.2228},
	{-65.9208, 18.2228},
	{-65.9208, 18.2328},
	{-65.9308, 18.2328},
	{-65.9308, 18.2228},
}

func newTopoClient(t *testing.T) (*MetadataClient, *MockHTTPDoer) {
	fixture := loadTestFixture(t, "topo_service_pjson.json")
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json", fixture), nil)
	client := NewMetadataClientWithHTTPDoer(
		"https://maps.example.com/arcgis/rest/services/Topo/MapServer", mockHTTP)
	return client, mockHTTP
}

func TestMetadataClient_DescriptorCachedAfterFirstFetch(t *testing.T) {
	client, mockHTTP := newTopoClient(t)
	ctx := context.Background()

	desc, err := client.Descriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Layers", desc.MapName)
	assert.Equal(t, 3857, desc.WKID(), "latestWkid should win over wkid")
	assert.Len(t, desc.LODs(), 20)

	// Second call must come from cache, not the network.
	_, err = client.Descriptor(ctx)
	require.NoError(t, err)
	mockHTTP.AssertNumberOfCalls(t, "Do", 1)
}

func TestMetadataClient_FetchFailureLeavesNoPartialState(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(500, "text/html", "boom"), nil)
	client := NewMetadataClientWithHTTPDoer("https://maps.example.com/arcgis/rest/services/Topo/MapServer", mockHTTP)

	_, err := client.Descriptor(context.Background())
	require.Error(t, err)

	var metaErr *ServiceMetadataError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, 500, metaErr.Status, "HTTP status should be preserved on the error")
}

func TestMetadataClient_ServiceErrorPayload(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json",
			`{"error": {"code": 499, "message": "Token Required"}}`), nil)
	client := NewMetadataClientWithHTTPDoer("https://maps.example.com/arcgis/rest/services/Topo/MapServer", mockHTTP)

	_, err := client.Descriptor(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token Required", "Service error message should surface")
}

func TestMetadataClient_PickBestLOD(t *testing.T) {
	client, _ := newTopoClient(t)
	ctx := context.Background()

	// 0.01 degrees of longitude is ~1113m of Web Mercator ground width.
	// At 800px the desired resolution is ~1.39 m/px, closest to level 17.
	lod, err := client.PickBestLOD(ctx, testSite, 800)
	require.NoError(t, err)
	assert.Equal(t, 17, lod.Level)

	// At 100px the desired resolution is ~11.1 m/px, closest to level 14.
	lod, err = client.PickBestLOD(ctx, testSite, 100)
	require.NoError(t, err)
	assert.Equal(t, 14, lod.Level)
}

func TestMetadataClient_PickBestLOD_Monotonic(t *testing.T) {
	client, _ := newTopoClient(t)
	ctx := context.Background()

	// Increasing pixel width means more zoom intent; the selected
	// resolution must never increase.
	prev := -1.0
	for _, width := range []int{50, 100, 200, 400, 800, 1600, 3200} {
		lod, err := client.PickBestLOD(ctx, testSite, width)
		require.NoError(t, err)
		if prev >= 0 {
			assert.LessOrEqual(t, lod.Resolution, prev,
				"Resolution should not increase as pixel width grows (width=%d)", width)
		}
		prev = lod.Resolution
	}
}

func TestMetadataClient_PickBestLOD_RejectsBadInput(t *testing.T) {
	client, _ := newTopoClient(t)
	ctx := context.Background()

	_, err := client.PickBestLOD(ctx, testSite, 0)
	assert.Error(t, err, "Zero pixel width should be rejected")

	twoPoint := orb.Ring{{-65.93, 18.22}, {-65.92, 18.23}}
	_, err = client.PickBestLOD(ctx, twoPoint, 800)
	assert.Error(t, err, "Degenerate ring should be rejected before any math")
}

func TestMetadataClient_PickBestLOD_NoLODTable(t *testing.T) {
	fixture := loadTestFixture(t, "dynamic_service_pjson.json")
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json", fixture), nil)
	client := NewMetadataClientWithHTTPDoer("https://maps.example.com/arcgis/rest/services/NFHL/MapServer", mockHTTP)

	_, err := client.PickBestLOD(context.Background(), testSite, 800)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LOD table")
}

func TestMetadataClient_ChooseExportFormat(t *testing.T) {
	client, _ := newTopoClient(t)
	ctx := context.Background()

	format, err := client.ChooseExportFormat(ctx, []string{"PNG32", "PNG"})
	require.NoError(t, err)
	assert.Equal(t, "PNG32", format)

	// Preferred format not supported: fall back to the service's first.
	format, err = client.ChooseExportFormat(ctx, []string{"WEBP"})
	require.NoError(t, err)
	assert.Equal(t, "PNG32", format, "First supported format should be the fallback")
}

func TestMetadataClient_GeodesicDistance(t *testing.T) {
	client, _ := newTopoClient(t)

	// One degree of longitude at the equator is ~111.32km.
	d, err := client.GeodesicDistance(0, 0, 1, 0)
	require.NoError(t, err)
	assert.InDelta(t, 111320, d, 200, "One degree at the equator should be ~111.3km")
}
