package arcgis

import "fmt"

// ServiceMetadataError indicates a descriptor fetch or parse failure. The
// metadata client keeps no partial state after one of these.
type ServiceMetadataError struct {
	URL    string
	Status int
	Err    error
}

func (e *ServiceMetadataError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("service metadata fetch failed for %s (HTTP %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("service metadata fetch failed for %s: %v", e.URL, e.Err)
}

func (e *ServiceMetadataError) Unwrap() error { return e.Err }

// ReprojectionError indicates a geometry service /project failure.
type ReprojectionError struct {
	URL      string
	InSR     int
	OutSR    int
	Status   int
	Err      error
}

func (e *ReprojectionError) Error() string {
	return fmt.Sprintf("reprojection %d -> %d failed via %s: %v", e.InSR, e.OutSR, e.URL, e.Err)
}

func (e *ReprojectionError) Unwrap() error { return e.Err }

// ExportDispatchError indicates a network, timeout or non-2xx failure while
// dispatching a basemap export or print job. Leg identifies which remote
// round-trip failed, since diagnosing the failing leg matters to callers.
type ExportDispatchError struct {
	Leg     string // "export" or "print"
	URL     string
	Status  int
	Payload string // service JSON error payload, when available
	Err     error
}

func (e *ExportDispatchError) Error() string {
	msg := fmt.Sprintf("%s dispatch to %s failed", e.Leg, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ExportDispatchError) Unwrap() error { return e.Err }

// ExportResultError indicates a print job that dispatched successfully but
// produced no fetchable artifact (missing/invalid result URL, or the
// artifact fetch itself failed).
type ExportResultError struct {
	URL string
	Err error
}

func (e *ExportResultError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("print job returned no result URL: %v", e.Err)
	}
	return fmt.Sprintf("print job artifact at %s could not be fetched: %v", e.URL, e.Err)
}

func (e *ExportResultError) Unwrap() error { return e.Err }
