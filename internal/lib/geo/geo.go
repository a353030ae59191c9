package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// kernel implements the Kernel interface
type kernel struct{}

// NewKernel creates a new geometry Kernel implementation
func NewKernel() Kernel {
	return &kernel{}
}

// Destination computes the ellipsoidal forward geodesic and the bearing
// pointing back at the origin from the destination.
func (k *kernel) Destination(origin Point, distanceMeters, bearingDeg float64) (Point, float64, error) {
	if !isValidCoordinate(origin) {
		return Point{}, 0, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	if distanceMeters < 0 {
		return Point{}, 0, errors.New("distance must be non-negative")
	}

	lat2, lon2, finalBearing := vincentyDirect(origin.Latitude, origin.Longitude, distanceMeters, bearingDeg)

	// The reverse bearing points from the destination back toward the
	// origin: the final azimuth rotated half a turn.
	reverse := math.Mod(finalBearing+180, 360)

	return Point{Latitude: lat2, Longitude: lon2}, reverse, nil
}

// Inverse computes ellipsoidal distance in meters between two points.
func (k *kernel) Inverse(p1, p2 Point) (float64, error) {
	if !isValidCoordinate(p1) || !isValidCoordinate(p2) {
		return 0, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}

	d, err := vincentyInverse(p1.Latitude, p1.Longitude, p2.Latitude, p2.Longitude)
	if err != nil {
		// Nearly antipodal points; the spherical distance is within a
		// fraction of a percent there, good enough for map extents.
		return haversineMeters(p1.Latitude, p1.Longitude, p2.Latitude, p2.Longitude), nil
	}
	return d, nil
}

// CirclePolygon generates a closed ring approximating a geodesic circle of
// radiusMiles around center, with numPoints evenly spaced bearings. The ring
// has numPoints+1 vertices (first == last).
func (k *kernel) CirclePolygon(center Point, radiusMiles float64, numPoints int) (orb.Ring, error) {
	if !isValidCoordinate(center) {
		return nil, errors.New("invalid center coordinates")
	}
	if radiusMiles <= 0 {
		return nil, errors.New("radius must be positive")
	}
	if numPoints < 3 {
		numPoints = 64
	}

	radiusMeters := radiusMiles * MetersPerMile
	ring := make(orb.Ring, 0, numPoints+1)
	for i := 0; i < numPoints; i++ {
		bearing := float64(i) * 360.0 / float64(numPoints)
		dest, _, err := k.Destination(center, radiusMeters, bearing)
		if err != nil {
			return nil, err
		}
		ring = append(ring, dest.Orb())
	}
	ring = append(ring, ring[0]) // close the ring

	return ring, nil
}

// BufferBoundingBox returns the ring's bounding box expanded by bufferMiles
// on every side, as a 5-point closed ring.
//
// This is a rectangular extent buffer, not a true offset of the polygon: the
// result exists to size a map extent, never to compute a setback geometry.
// The degree conversion uses flat per-degree constants evaluated at the box's
// center latitude, which is accurate to well under 1% at parcel scale.
func (k *kernel) BufferBoundingBox(ring orb.Ring, bufferMiles float64) (orb.Ring, error) {
	if err := ValidateRing(ring); err != nil {
		return nil, err
	}
	if bufferMiles < 0 {
		return nil, errors.New("buffer must be non-negative")
	}

	bound := ring.Bound()
	centerLat := (bound.Min[1] + bound.Max[1]) / 2

	bufferMeters := bufferMiles * MetersPerMile
	dLat := bufferMeters / MetersPerDegreeLat
	dLon := bufferMeters / (MetersPerDegreeLon * math.Cos(centerLat*math.Pi/180))

	minX, minY := bound.Min[0]-dLon, bound.Min[1]-dLat
	maxX, maxY := bound.Max[0]+dLon, bound.Max[1]+dLat

	return orb.Ring{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}, nil
}

// DecodeBoundary decodes a Google encoded polyline into a closed ring.
func (k *kernel) DecodeBoundary(encoded string) (orb.Ring, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	ring := make(orb.Ring, 0, len(coords)+1)
	for _, coord := range coords {
		p := Point{Latitude: coord[0], Longitude: coord[1]}
		if !isValidCoordinate(p) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
		ring = append(ring, p.Orb())
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	if err := ValidateRing(ring); err != nil {
		return nil, err
	}

	return ring, nil
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}

// ValidateRing rejects geometry that cannot produce a map: fewer than 3
// distinct vertices or a zero-area bounding box.
func ValidateRing(ring orb.Ring) error {
	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			return &InputGeometryError{Reason: "coordinate out of range", Input: ring}
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return &InputGeometryError{Reason: "fewer than 3 distinct vertices", Input: ring}
	}

	bound := ring.Bound()
	if bound.Min[0] == bound.Max[0] || bound.Min[1] == bound.Max[1] {
		return &InputGeometryError{Reason: "zero-area bounding box", Input: ring}
	}
	return nil
}

// Web-Mercator latitude limit. Projection clamps here rather than erroring.
const webMercatorMaxLat = 85.05112878

const webMercatorRadius = 6378137.0

// LonLatToWebMercator projects a WGS84 coordinate to spherical Web Mercator
// (EPSG:3857) meters. Latitude is clamped to the projection's polar limit.
func LonLatToWebMercator(lon, lat float64) (x, y float64) {
	if lat > webMercatorMaxLat {
		lat = webMercatorMaxLat
	} else if lat < -webMercatorMaxLat {
		lat = -webMercatorMaxLat
	}

	x = webMercatorRadius * lon * math.Pi / 180
	y = webMercatorRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// WebMercatorToLonLat is the inverse of LonLatToWebMercator.
func WebMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x / webMercatorRadius * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(y/webMercatorRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// LonLatToPixel maps a WGS84 coordinate to pixel space for an image of
// imgW x imgH covering extent. Row 0 corresponds to extent.Max[1] (north up).
func LonLatToPixel(lon, lat float64, extent orb.Bound, imgW, imgH int) (px, py float64) {
	width := extent.Max[0] - extent.Min[0]
	height := extent.Max[1] - extent.Min[1]

	px = (lon - extent.Min[0]) / width * float64(imgW)
	py = (extent.Max[1] - lat) / height * float64(imgH)
	return px, py
}
