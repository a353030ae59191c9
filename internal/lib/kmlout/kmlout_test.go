package kmlout

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terracarta/mapengine/internal/lib/geo"
)

var testSite = orb.Ring{
	{-120.55298, 38.06846},
	{-120.54122, 38.06846},
	{-120.54122, 38.07602},
	{-120.55298, 38.07602},
	{-120.55298, 38.06846},
}

func TestWrite_SiteOnly(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Overlay{
		Name:         "Test Site",
		Site:         testSite,
		FillColor:    color.RGBA{R: 255, A: 90},
		OutlineColor: color.RGBA{R: 255, A: 255},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `xmlns="http://www.opengis.net/kml/2.2"`)
	assert.Contains(t, out, "<name>Test Site</name>")
	assert.Contains(t, out, "<Polygon>")
	assert.Contains(t, out, "<styleUrl>#siteStyle</styleUrl>")
	assert.Contains(t, out, "-120.55298", "coordinates should carry the boundary longitudes")

	assert.Equal(t, 1, strings.Count(out, "<Placemark>"),
		"site-only overlay should produce exactly one placemark")
	assert.NotContains(t, out, "Buffer Circle")
	assert.NotContains(t, out, "<Point>")
}

func TestWrite_AllOverlays(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Overlay{
		Name:         "Full Export",
		Site:         testSite,
		Circle:       testSite, // shape is irrelevant, presence is what matters
		Marker:       &geo.Point{Latitude: 38.07, Longitude: -120.547},
		FillColor:    color.RGBA{R: 255, A: 90},
		OutlineColor: color.RGBA{R: 255, A: 255},
		OutlineWidth: 3,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "<Placemark>"))
	assert.Contains(t, out, "<name>Site Boundary</name>")
	assert.Contains(t, out, "<name>Buffer Circle</name>")
	assert.Contains(t, out, "<name>Marker</name>")
	assert.Contains(t, out, "<styleUrl>#circleStyle</styleUrl>")
	assert.Contains(t, out, "<styleUrl>#markerStyle</styleUrl>")
	assert.Contains(t, out, "<Point>")
	assert.Contains(t, out, "<width>3</width>")
}

func TestWrite_ClosesOpenRing(t *testing.T) {
	open := orb.Ring{
		{-120.55298, 38.06846},
		{-120.54122, 38.06846},
		{-120.54122, 38.07602},
	}

	var buf bytes.Buffer
	err := Write(&buf, Overlay{Name: "Open", Site: open})
	require.NoError(t, err)

	// First and last coordinate tuples in the ring must match.
	out := buf.String()
	start := strings.Index(out, "<coordinates>")
	end := strings.Index(out, "</coordinates>")
	require.True(t, start >= 0 && end > start)
	coords := strings.Fields(out[start+len("<coordinates>") : end])
	require.NotEmpty(t, coords)
	assert.Equal(t, coords[0], coords[len(coords)-1], "linear ring should be closed")
}

func TestWrite_RejectsDegenerateSite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Overlay{Site: orb.Ring{{-120.5, 38.0}, {-120.4, 38.0}}})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlays.kml")
	err := WriteFile(path, Overlay{Name: "On Disk", Site: testSite})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<name>On Disk</name>")
	assert.NoFileExists(t, path+".part", "staging file should be renamed away")
}

func TestWriteFile_FailureLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlays.kml")
	err := WriteFile(path, Overlay{Site: orb.Ring{{-120.5, 38.0}, {-120.4, 38.0}}})
	require.Error(t, err)

	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".part", "failed write should not leave a staging file")
}
