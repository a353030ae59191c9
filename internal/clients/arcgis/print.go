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
)

// PrintClient submits export-web-map jobs to a print task endpoint and
// fetches the rendered artifact. Print jobs render larger outputs than
// basemap exports, hence the longer default timeout.
type PrintClient struct {
	taskURL    string
	httpClient HTTPDoer
}

// NewPrintClient creates a print client for an export-web-map task URL.
func NewPrintClient(taskURL string) *PrintClient {
	return NewPrintClientWithHTTPDoer(taskURL, &http.Client{
		Timeout: 120 * time.Second,
	})
}

// NewPrintClientWithHTTPDoer creates a print client with a custom HTTP
// implementation (used by tests).
func NewPrintClientWithHTTPDoer(taskURL string, doer HTTPDoer) *PrintClient {
	return &PrintClient{taskURL: taskURL, httpClient: doer}
}

// Submit posts a Web_Map_as_JSON print job and returns the result URL.
func (c *PrintClient) Submit(ctx context.Context, webMapJSON, format, layoutTemplate string) (string, error) {
	executeURL := c.taskURL + "/execute"

	form := url.Values{}
	form.Set("Web_Map_as_JSON", webMapJSON)
	form.Set("Format", format)
	form.Set("Layout_Template", layoutTemplate)
	form.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, "POST", executeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &ExportDispatchError{Leg: "print", URL: executeURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ExportDispatchError{Leg: "print", URL: executeURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ExportDispatchError{Leg: "print", URL: executeURL, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ExportDispatchError{Leg: "print", URL: executeURL,
			Status: resp.StatusCode, Payload: errorPayload(body)}
	}

	var jobResp printJobResponse
	if err := json.Unmarshal(body, &jobResp); err != nil {
		return "", &ExportResultError{Err: fmt.Errorf("failed to parse print response: %w", err)}
	}
	if jobResp.Error != nil {
		return "", &ExportDispatchError{Leg: "print", URL: executeURL,
			Status: resp.StatusCode, Payload: jobResp.Error.Message}
	}

	if resultURL := jobResp.resultURL(); resultURL != "" {
		return resultURL, nil
	}
	return "", &ExportResultError{Err: fmt.Errorf("response contained no output url")}
}

// resultURL locates the artifact URL in either response shape: a
// geoprocessing results array or a top-level url field.
func (r *printJobResponse) resultURL() string {
	for _, result := range r.Results {
		if result.Value.URL != "" {
			return result.Value.URL
		}
	}
	return r.URL
}

// FetchArtifact downloads the rendered artifact from a print job result URL.
func (c *PrintClient) FetchArtifact(ctx context.Context, artifactURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", artifactURL, nil)
	if err != nil {
		return nil, &ExportResultError{URL: artifactURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExportResultError{URL: artifactURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ExportResultError{URL: artifactURL,
			Err: fmt.Errorf("HTTP %d fetching artifact", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExportResultError{URL: artifactURL, Err: err}
	}
	if len(body) == 0 {
		return nil, &ExportResultError{URL: artifactURL, Err: fmt.Errorf("empty artifact")}
	}
	return body, nil
}
