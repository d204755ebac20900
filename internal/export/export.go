// Package export emits the finished dataset as CSV and GeoJSON. These are
// thin wrappers over the StampLocation records; column order and the
// rendering of absent optionals are stable across runs.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caminotrails/stamp-crawler/internal/camino"
)

// Columns is the canonical column order of the CSV output.
var Columns = []string{
	"route",
	"town",
	"place",
	"categories",
	"english_categories",
	"image_path",
	"latitude",
	"longitude",
	"geocode_confidence",
}

// Row renders one location in the canonical column order. Absent optionals
// become empty cells, never dropped columns.
func Row(loc camino.StampLocation) []string {
	lat, lon := "", ""
	if loc.Coordinates != nil {
		lat = strconv.FormatFloat(loc.Coordinates.Lat, 'f', 6, 64)
		lon = strconv.FormatFloat(loc.Coordinates.Lon, 'f', 6, 64)
	}
	return []string{
		loc.Town.Route.Name,
		loc.Town.Name,
		loc.PlaceName,
		strings.Join(loc.RawCategories, "; "),
		strings.Join(loc.EnglishCategories, "; "),
		loc.ImagePath,
		lat,
		lon,
		string(loc.Confidence),
	}
}

// WriteCSV writes the header plus one row per location, in input order.
func WriteCSV(w io.Writer, locs []camino.StampLocation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, loc := range locs {
		if err := cw.Write(Row(loc)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// WriteGeoJSON writes a FeatureCollection of the geocoded locations.
// Locations without coordinates have no geometry to offer and are left to
// the CSV output.
func WriteGeoJSON(w io.Writer, locs []camino.StampLocation) error {
	fc := featureCollection{Type: "FeatureCollection", Features: []feature{}}
	for _, loc := range locs {
		if loc.Coordinates == nil {
			continue
		}
		fc.Features = append(fc.Features, feature{
			Type: "Feature",
			Geometry: geometry{
				Type: "Point",
				// GeoJSON order is lon, lat.
				Coordinates: [2]float64{loc.Coordinates.Lon, loc.Coordinates.Lat},
			},
			Properties: map[string]any{
				"route":              loc.Town.Route.Name,
				"town":               loc.Town.Name,
				"place":              loc.PlaceName,
				"categories":         loc.RawCategories,
				"english_categories": loc.EnglishCategories,
				"image_path":         loc.ImagePath,
				"geocode_confidence": string(loc.Confidence),
			},
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return nil
}

// WriteFiles writes stamps.csv and stamps.geojson under dir.
func WriteFiles(dir string, locs []camino.StampLocation) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	csvFile, err := os.Create(filepath.Join(dir, "stamps.csv"))
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer csvFile.Close()
	if err := WriteCSV(csvFile, locs); err != nil {
		return err
	}

	geoFile, err := os.Create(filepath.Join(dir, "stamps.geojson"))
	if err != nil {
		return fmt.Errorf("create geojson: %w", err)
	}
	defer geoFile.Close()
	return WriteGeoJSON(geoFile, locs)
}
