package geo

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// MetersPerMile is the conversion constant used everywhere a caller supplies
// a distance in miles.
const MetersPerMile = 1609.34

// Approximate metric size of one degree, used for the rectangular extent
// buffer. Longitude shrinks with cos(latitude).
const (
	MetersPerDegreeLat = 110750.0
	MetersPerDegreeLon = 111320.0
)

// Point represents a geographic coordinate in WGS84 degrees.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Orb converts a Point to an orb.Point (x=lon, y=lat).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// FromOrb converts an orb.Point (x=lon, y=lat) to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Latitude: p[1], Longitude: p[0]}
}

// ErrDegenerateGeometry indicates input geometry that cannot produce a map:
// fewer than 3 distinct vertices or a zero-area bounding box.
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// InputGeometryError wraps ErrDegenerateGeometry (or a coordinate-range
// violation) with the offending input echoed back.
type InputGeometryError struct {
	Reason string
	Input  orb.Ring
}

func (e *InputGeometryError) Error() string {
	return fmt.Sprintf("invalid input geometry: %s (%d vertices)", e.Reason, len(e.Input))
}

func (e *InputGeometryError) Unwrap() error { return ErrDegenerateGeometry }

// Kernel defines the pure geometry operations the map engine is built on.
// All methods are side-effect free and safe for concurrent use.
type Kernel interface {
	// Ellipsoidal forward geodesic: point reached by travelling
	// distanceMeters from origin at bearingDeg, plus the bearing that
	// points back at the origin from the destination.
	Destination(origin Point, distanceMeters, bearingDeg float64) (Point, float64, error)

	// Ellipsoidal distance between two points in meters.
	Inverse(p1, p2 Point) (float64, error)

	// Closed ring of numPoints+1 vertices at radiusMiles around center.
	CirclePolygon(center Point, radiusMiles float64, numPoints int) (orb.Ring, error)

	// Bounding box of ring expanded by bufferMiles on every side,
	// returned as a 5-point closed ring.
	BufferBoundingBox(ring orb.Ring, bufferMiles float64) (orb.Ring, error)

	// Decode a Google encoded polyline into a closed boundary ring.
	DecodeBoundary(encoded string) (orb.Ring, error)
}
