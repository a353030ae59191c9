// Package kmlout writes KML sidecar files describing the overlays that
// were drawn onto an exported map, so the same site boundary, buffer
// circle, and marker can be loaded into Google Earth or another viewer.
package kmlout

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-kml/v2"

	"github.com/terracarta/mapengine/internal/lib/geo"
)

// Shared style ids referenced by the generated placemarks.
const (
	siteStyleID   = "siteStyle"
	circleStyleID = "circleStyle"
	markerStyleID = "markerStyle"
)

// Overlay describes the geometry to include in the sidecar. Site is
// required; Circle and Marker are optional and omitted when empty/nil.
type Overlay struct {
	Name         string
	Site         orb.Ring
	Circle       orb.Ring
	Marker       *geo.Point
	FillColor    color.RGBA
	OutlineColor color.RGBA
	OutlineWidth float64
}

// Write renders the overlay as a KML document.
func Write(w io.Writer, ov Overlay) error {
	if len(ov.Site) < 3 {
		return fmt.Errorf("site boundary has %d points, need at least 3", len(ov.Site))
	}

	name := ov.Name
	if name == "" {
		name = "Map Overlays"
	}
	outlineWidth := ov.OutlineWidth
	if outlineWidth <= 0 {
		outlineWidth = 2
	}

	children := []kml.Element{
		kml.Name(name),
		kml.SharedStyle(siteStyleID,
			kml.LineStyle(
				kml.Color(ov.OutlineColor),
				kml.Width(outlineWidth),
			),
			kml.PolyStyle(
				kml.Color(ov.FillColor),
			),
		),
		kml.SharedStyle(circleStyleID,
			kml.LineStyle(
				kml.Color(ov.OutlineColor),
				kml.Width(outlineWidth),
			),
			kml.PolyStyle(
				kml.Fill(false),
			),
		),
		kml.SharedStyle(markerStyleID,
			kml.IconStyle(
				kml.Color(ov.OutlineColor),
			),
		),
		kml.Placemark(
			kml.Name("Site Boundary"),
			kml.StyleURL("#"+siteStyleID),
			polygonFromRing(ov.Site),
		),
	}

	if len(ov.Circle) >= 3 {
		children = append(children, kml.Placemark(
			kml.Name("Buffer Circle"),
			kml.StyleURL("#"+circleStyleID),
			polygonFromRing(ov.Circle),
		))
	}

	if ov.Marker != nil {
		children = append(children, kml.Placemark(
			kml.Name("Marker"),
			kml.StyleURL("#"+markerStyleID),
			kml.Point(
				kml.Coordinates(kml.Coordinate{
					Lon: ov.Marker.Longitude,
					Lat: ov.Marker.Latitude,
				}),
			),
		))
	}

	doc := kml.KML(kml.Document(children...))
	return doc.WriteIndent(w, "", "  ")
}

// WriteFile writes the overlay KML to path, replacing any existing file.
// The document is staged to path+".part" and renamed into place, so a
// failed write leaves no truncated sidecar behind.
func WriteFile(path string, ov Overlay) error {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create KML sidecar: %w", err)
	}
	if err := Write(f, ov); err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("failed to write KML sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to close KML sidecar: %w", err)
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to finalize KML sidecar: %w", err)
	}
	return nil
}

func polygonFromRing(ring orb.Ring) kml.Element {
	coords := make([]kml.Coordinate, 0, len(ring)+1)
	for _, pt := range ring {
		coords = append(coords, kml.Coordinate{Lon: pt[0], Lat: pt[1]})
	}
	// KML linear rings must be explicitly closed.
	if ring[0] != ring[len(ring)-1] {
		coords = append(coords, kml.Coordinate{Lon: ring[0][0], Lat: ring[0][1]})
	}
	return kml.Polygon(
		kml.OuterBoundaryIs(
			kml.LinearRing(
				kml.Coordinates(coords...),
			),
		),
	)
}
