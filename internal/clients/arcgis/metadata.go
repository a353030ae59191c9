package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/terracarta/mapengine/internal/lib/geo"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MetadataClient fetches and caches a map service's descriptor. The
// descriptor is fetched once per instance and is read-only afterwards, so a
// single client may be shared by concurrent callers.
type MetadataClient struct {
	serviceURL string
	httpClient HTTPDoer
	kernel     geo.Kernel
	projector  Projector

	mu         sync.Mutex
	descriptor *ServiceDescriptor
}

// Projector reprojects an envelope between spatial references. Satisfied by
// *ProjectClient; nil is allowed when the service is in WGS84 or Web
// Mercator, which the geometry kernel handles locally.
type Projector interface {
	ProjectEnvelope(ctx context.Context, env Extent, inSR, outSR int) (Extent, error)
}

// NewMetadataClient creates a metadata client for a map service URL.
func NewMetadataClient(serviceURL string) *MetadataClient {
	return NewMetadataClientWithHTTPDoer(serviceURL, &http.Client{
		Timeout: 15 * time.Second,
	})
}

// NewMetadataClientWithHTTPDoer creates a metadata client with a custom
// HTTP implementation (used by tests).
func NewMetadataClientWithHTTPDoer(serviceURL string, doer HTTPDoer) *MetadataClient {
	return &MetadataClient{
		serviceURL: serviceURL,
		httpClient: doer,
		kernel:     geo.NewKernel(),
	}
}

// WithProjector attaches a geometry-service projector for services whose
// native spatial reference the kernel cannot convert to locally.
func (c *MetadataClient) WithProjector(p Projector) *MetadataClient {
	c.projector = p
	return c
}

// ServiceURL returns the URL this client describes.
func (c *MetadataClient) ServiceURL() string { return c.serviceURL }

// Descriptor returns the cached descriptor, fetching it on first use.
func (c *MetadataClient) Descriptor(ctx context.Context) (*ServiceDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.descriptor != nil {
		return c.descriptor, nil
	}
	desc, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.descriptor = desc
	return desc, nil
}

// Prime seeds the descriptor cache, for callers that hold a descriptor
// from a shared TTL cache and want to skip the initial fetch.
func (c *MetadataClient) Prime(desc *ServiceDescriptor) {
	c.mu.Lock()
	c.descriptor = desc
	c.mu.Unlock()
}

// Refresh drops the cached descriptor and refetches it.
func (c *MetadataClient) Refresh(ctx context.Context) (*ServiceDescriptor, error) {
	desc, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.descriptor = desc
	c.mu.Unlock()
	return desc, nil
}

func (c *MetadataClient) fetch(ctx context.Context) (*ServiceDescriptor, error) {
	fetchURL := c.serviceURL + "?f=pjson"

	req, err := http.NewRequestWithContext(ctx, "GET", fetchURL, nil)
	if err != nil {
		return nil, &ServiceMetadataError{URL: fetchURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceMetadataError{URL: fetchURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceMetadataError{URL: fetchURL, Status: resp.StatusCode,
			Err: fmt.Errorf("non-OK HTTP status")}
	}

	var desc ServiceDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, &ServiceMetadataError{URL: fetchURL, Err: fmt.Errorf("failed to parse descriptor: %w", err)}
	}
	if desc.Error != nil {
		return nil, &ServiceMetadataError{URL: fetchURL,
			Err: fmt.Errorf("service error %d: %s", desc.Error.Code, desc.Error.Message)}
	}

	return &desc, nil
}

// PickBestLOD reprojects the ring's bounding extent into the service's
// native spatial reference, derives the desired resolution from ground width
// over pixel width, and returns the LOD whose resolution is closest.
func (c *MetadataClient) PickBestLOD(ctx context.Context, ring orb.Ring, targetPixelWidth int) (LOD, error) {
	if targetPixelWidth <= 0 {
		return LOD{}, fmt.Errorf("target pixel width must be positive, got %d", targetPixelWidth)
	}
	if err := geo.ValidateRing(ring); err != nil {
		return LOD{}, err
	}

	desc, err := c.Descriptor(ctx)
	if err != nil {
		return LOD{}, err
	}
	lods := desc.LODs()
	if len(lods) == 0 {
		return LOD{}, fmt.Errorf("service %s exposes no LOD table", c.serviceURL)
	}

	groundWidth, err := c.groundWidthMeters(ctx, ring.Bound(), desc.WKID())
	if err != nil {
		return LOD{}, err
	}
	desired := groundWidth / float64(targetPixelWidth)

	best := lods[0]
	bestDiff := math.Abs(best.Resolution - desired)
	for _, lod := range lods[1:] {
		if diff := math.Abs(lod.Resolution - desired); diff < bestDiff {
			best, bestDiff = lod, diff
		}
	}
	return best, nil
}

// groundWidthMeters measures the extent's east-west span in the service's
// native units. WGS84 extents are measured geodesically; Web Mercator
// locally; anything else goes through the geometry service.
func (c *MetadataClient) groundWidthMeters(ctx context.Context, bound orb.Bound, wkid int) (float64, error) {
	midLat := (bound.Min[1] + bound.Max[1]) / 2

	switch wkid {
	case 4326:
		return c.kernel.Inverse(
			geo.Point{Latitude: midLat, Longitude: bound.Min[0]},
			geo.Point{Latitude: midLat, Longitude: bound.Max[0]},
		)
	case 3857, 102100:
		x1, _ := geo.LonLatToWebMercator(bound.Min[0], midLat)
		x2, _ := geo.LonLatToWebMercator(bound.Max[0], midLat)
		return x2 - x1, nil
	default:
		if c.projector == nil {
			// No projector wired; geodesic width is metric regardless
			// of the target system and close enough for LOD choice.
			return c.kernel.Inverse(
				geo.Point{Latitude: midLat, Longitude: bound.Min[0]},
				geo.Point{Latitude: midLat, Longitude: bound.Max[0]},
			)
		}
		env := Extent{XMin: bound.Min[0], YMin: bound.Min[1], XMax: bound.Max[0], YMax: bound.Max[1]}
		projected, err := c.projector.ProjectEnvelope(ctx, env, 4326, wkid)
		if err != nil {
			return 0, err
		}
		return projected.XMax - projected.XMin, nil
	}
}

// GroundWidth measures the east-west ground span of a WGS84 extent in
// meters, using the service's native spatial reference for the measure.
func (c *MetadataClient) GroundWidth(ctx context.Context, bound orb.Bound) (float64, error) {
	desc, err := c.Descriptor(ctx)
	if err != nil {
		return 0, err
	}
	return c.groundWidthMeters(ctx, bound, desc.WKID())
}

// ChooseExportFormat returns the first preferred format the service
// supports, else the service's own first supported format.
func (c *MetadataClient) ChooseExportFormat(ctx context.Context, preferred []string) (string, error) {
	desc, err := c.Descriptor(ctx)
	if err != nil {
		return "", err
	}

	supported := desc.SupportedFormatList()
	supportedSet := make(map[string]struct{}, len(supported))
	for _, f := range supported {
		supportedSet[f] = struct{}{}
	}

	for _, f := range preferred {
		if _, ok := supportedSet[f]; ok {
			return f, nil
		}
	}
	if len(supported) > 0 {
		return supported[0], nil
	}
	return "", fmt.Errorf("service %s advertises no image formats", c.serviceURL)
}

// GeodesicDistance returns the ellipsoidal distance in meters between two
// WGS84 points, delegating to the geometry kernel.
func (c *MetadataClient) GeodesicDistance(lon1, lat1, lon2, lat2 float64) (float64, error) {
	return c.kernel.Inverse(
		geo.Point{Latitude: lat1, Longitude: lon1},
		geo.Point{Latitude: lat2, Longitude: lon2},
	)
}
