package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ProjectClient reprojects geometries through a geometry service's /project
// endpoint, for services whose native spatial reference the kernel cannot
// convert to locally.
type ProjectClient struct {
	geometryURL string
	httpClient  HTTPDoer
}

// NewProjectClient creates a projection client for a geometry service URL.
func NewProjectClient(geometryURL string) *ProjectClient {
	return NewProjectClientWithHTTPDoer(geometryURL, &http.Client{
		Timeout: 15 * time.Second,
	})
}

// NewProjectClientWithHTTPDoer creates a projection client with a custom
// HTTP implementation (used by tests).
func NewProjectClientWithHTTPDoer(geometryURL string, doer HTTPDoer) *ProjectClient {
	return &ProjectClient{geometryURL: geometryURL, httpClient: doer}
}

// ProjectEnvelope reprojects an envelope from inSR to outSR.
func (c *ProjectClient) ProjectEnvelope(ctx context.Context, env Extent, inSR, outSR int) (Extent, error) {
	projectURL := c.geometryURL + "/project"

	geometries := map[string]interface{}{
		"geometryType": "esriGeometryEnvelope",
		"geometries": []map[string]float64{{
			"xmin": env.XMin,
			"ymin": env.YMin,
			"xmax": env.XMax,
			"ymax": env.YMax,
		}},
	}
	geomJSON, err := json.Marshal(geometries)
	if err != nil {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR, Err: err}
	}

	params := url.Values{}
	params.Set("geometries", string(geomJSON))
	params.Set("inSR", fmt.Sprintf("%d", inSR))
	params.Set("outSR", fmt.Sprintf("%d", outSR))
	params.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", projectURL+"?"+params.Encode(), nil)
	if err != nil {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR,
			Status: resp.StatusCode, Err: fmt.Errorf("non-OK HTTP status")}
	}

	var projResp projectResponse
	if err := json.NewDecoder(resp.Body).Decode(&projResp); err != nil {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR,
			Err: fmt.Errorf("failed to parse project response: %w", err)}
	}
	if projResp.Error != nil {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR,
			Err: fmt.Errorf("service error %d: %s", projResp.Error.Code, projResp.Error.Message)}
	}
	if len(projResp.Geometries) == 0 {
		return Extent{}, &ReprojectionError{URL: projectURL, InSR: inSR, OutSR: outSR,
			Err: fmt.Errorf("response contained no geometries")}
	}

	out := projResp.Geometries[0]
	out.SpatialReference = &SpatialReference{WKID: outSR}
	return out, nil
}
