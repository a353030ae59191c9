package services

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/terracarta/mapengine/internal/clients/arcgis"
	"github.com/terracarta/mapengine/internal/lib/geo"
)

// ExtentResolver computes the export extent and map scale for a site.
type ExtentResolver struct {
	kernel geo.Kernel
}

// NewExtentResolver creates a new ExtentResolver
func NewExtentResolver(kernel geo.Kernel) *ExtentResolver {
	return &ExtentResolver{kernel: kernel}
}

// ResolveExtent buffers the ring's bounding box by bufferMiles, then
// inflates each dimension by marginFrac (0.10 = 10% wider and taller)
// keeping the same center.
func (r *ExtentResolver) ResolveExtent(ring orb.Ring, bufferMiles, marginFrac float64) (orb.Bound, error) {
	if marginFrac < 0 {
		return orb.Bound{}, fmt.Errorf("margin fraction must not be negative, got %g", marginFrac)
	}

	box, err := r.kernel.BufferBoundingBox(ring, bufferMiles)
	if err != nil {
		return orb.Bound{}, err
	}
	bound := box.Bound()

	padX := (bound.Max[0] - bound.Min[0]) * marginFrac / 2
	padY := (bound.Max[1] - bound.Min[1]) * marginFrac / 2
	return orb.Bound{
		Min: orb.Point{bound.Min[0] - padX, bound.Min[1] - padY},
		Max: orb.Point{bound.Max[0] + padX, bound.Max[1] + padY},
	}, nil
}

// ResolveScale picks the map scale for an export. Services with a tile
// LOD table snap to the closest level; everything else gets a synthetic
// scale derived from the extent's ground width, reported with
// Level set to arcgis.SyntheticLODLevel. Both paths produce a scale
// denominator the scale-bar chooser consumes identically.
func (r *ExtentResolver) ResolveScale(ctx context.Context, meta *arcgis.MetadataClient,
	ring orb.Ring, extent orb.Bound, widthPx, dpi int) (arcgis.LOD, error) {

	if widthPx <= 0 || dpi <= 0 {
		return arcgis.LOD{}, fmt.Errorf("width and dpi must be positive, got %dx%ddpi", widthPx, dpi)
	}

	desc, err := meta.Descriptor(ctx)
	if err != nil {
		return arcgis.LOD{}, err
	}

	if len(desc.LODs()) > 0 {
		return meta.PickBestLOD(ctx, ring, widthPx)
	}

	groundWidth, err := meta.GroundWidth(ctx, extent)
	if err != nil {
		return arcgis.LOD{}, err
	}
	metersPerPixel := groundWidth / float64(widthPx)
	return arcgis.LOD{
		Level:      arcgis.SyntheticLODLevel,
		Resolution: metersPerPixel,
		Scale:      metersPerPixel * float64(dpi) / 0.0254,
	}, nil
}
