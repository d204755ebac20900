package camino

import (
	"fmt"
	"time"
)

// Route identifies one pilgrimage way being scraped, e.g. Camino Navarro.
// Routes come from configuration and are immutable.
type Route struct {
	Name     string
	IndexURL string
}

// Town is an intermediate hierarchy node within a route, grouping stamp
// locations. Immutable after discovery.
type Town struct {
	Route   Route
	Name    string
	PageURL string
}

// Confidence tags the reliability of a resolved coordinate pair, derived
// from cross-provider agreement.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceLow    Confidence = "low"
	ConfidenceFailed Confidence = "failed"
)

// Coordinates is a WGS 84 point. A StampLocation either has both values or
// a nil pointer; latitude and longitude are never partially populated.
type Coordinates struct {
	Lat float64
	Lon float64
}

// StampLocation is a single pilgrim-stamp point of interest. Identity fields
// are set during discovery; the remaining fields are filled incrementally by
// the enrichment stages. A location missing categories, an image or
// coordinates is retained with zero values, never dropped.
type StampLocation struct {
	Town              Town
	PlaceName         string
	PageURL           string
	RawCategories     []string
	EnglishCategories []string
	ImagePath         string
	Coordinates       *Coordinates
	Confidence        Confidence
}

// Key returns the uniqueness key for a location within a run.
func (s StampLocation) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.Town.Route.Name, s.Town.Name, s.PageURL)
}

// RouteReport aggregates the missing-data conditions and failures observed
// while processing one route.
type RouteReport struct {
	Route             string `json:"route"`
	Towns             int    `json:"towns"`
	Locations         int    `json:"locations"`
	PagesFailed       int    `json:"pages_failed"`
	MissingCategories int    `json:"missing_categories"`
	MissingImages     int    `json:"missing_images"`
	FailedGeocodes    int    `json:"failed_geocodes"`
	LowConfidence     int    `json:"low_confidence"`
	Fatal             string `json:"fatal,omitempty"`
}

// RunReport is the end-of-run summary. The run always completes and emits a
// dataset for everything it could determine; the report says what is
// incomplete and why.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Routes     []RouteReport `json:"routes"`
}

// TotalLocations sums the location counts across all routes.
func (r RunReport) TotalLocations() int {
	total := 0
	for _, route := range r.Routes {
		total += route.Locations
	}
	return total
}
