package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// ExportClient fetches static basemap images from a map service's /export
// endpoint. Used by the local render path.
type ExportClient struct {
	serviceURL string
	httpClient HTTPDoer
}

// ExportImageRequest describes one /export fetch.
type ExportImageRequest struct {
	Extent      orb.Bound
	ExtentWKID  int // spatial reference of Extent (bboxSR), typically 4326
	ImageWKID   int // requested output spatial reference (imageSR)
	Width       int
	Height      int
	DPI         int
	Format      string // png, png32, jpg, ...
	Transparent bool
}

// NewExportClient creates an export client for a map service URL.
func NewExportClient(serviceURL string) *ExportClient {
	return NewExportClientWithHTTPDoer(serviceURL, &http.Client{
		Timeout: 60 * time.Second,
	})
}

// NewExportClientWithHTTPDoer creates an export client with a custom HTTP
// implementation (used by tests).
func NewExportClientWithHTTPDoer(serviceURL string, doer HTTPDoer) *ExportClient {
	return &ExportClient{serviceURL: serviceURL, httpClient: doer}
}

// ExportImage fetches a rendered basemap image covering the request extent.
func (c *ExportClient) ExportImage(ctx context.Context, r ExportImageRequest) ([]byte, error) {
	exportURL := c.serviceURL + "/export"

	params := url.Values{}
	params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f",
		r.Extent.Min[0], r.Extent.Min[1], r.Extent.Max[0], r.Extent.Max[1]))
	params.Set("bboxSR", fmt.Sprintf("%d", r.ExtentWKID))
	params.Set("imageSR", fmt.Sprintf("%d", r.ImageWKID))
	params.Set("size", fmt.Sprintf("%d,%d", r.Width, r.Height))
	params.Set("dpi", fmt.Sprintf("%d", r.DPI))
	params.Set("format", strings.ToLower(r.Format))
	params.Set("transparent", fmt.Sprintf("%t", r.Transparent))
	params.Set("f", "image")

	requestURL := exportURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, &ExportDispatchError{Leg: "export", URL: exportURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExportDispatchError{Leg: "export", URL: exportURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExportDispatchError{Leg: "export", URL: exportURL, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExportDispatchError{Leg: "export", URL: exportURL,
			Status: resp.StatusCode, Payload: errorPayload(body)}
	}

	// Services report failures as JSON bodies under a 200 when f=image
	// could not be honored.
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return nil, &ExportDispatchError{Leg: "export", URL: exportURL,
			Status: resp.StatusCode, Payload: errorPayload(body)}
	}

	return body, nil
}

// errorPayload extracts the service's own error message from a JSON body,
// falling back to a truncated raw body.
func errorPayload(body []byte) string {
	var wrapper struct {
		Error *serviceError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		return wrapper.Error.Message
	}
	const maxLen = 200
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return string(body)
}
