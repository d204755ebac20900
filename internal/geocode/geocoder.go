package geocode

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/camino"
)

// Geocoder resolves stamp locations through the configured providers and
// reconciles their estimates. A nil commercial provider (no API key) is
// tolerated: the OSM result alone then yields low confidence at best.
type Geocoder struct {
	osm        Provider
	commercial Provider
	country    string
	logger     *zap.Logger
}

// New builds a Geocoder. commercial may be nil.
func New(osm, commercial Provider, country string, logger *zap.Logger) *Geocoder {
	if country == "" {
		country = "Spain"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{osm: osm, commercial: commercial, country: country, logger: logger}
}

// Resolve geocodes one place. Provider errors are treated as misses: a
// failed lookup for one location never aborts processing of the rest.
func (g *Geocoder) Resolve(ctx context.Context, place, town string) (*camino.Coordinates, camino.Confidence) {
	if place == "" {
		return nil, camino.ConfidenceFailed
	}
	query := fmt.Sprintf("%s, %s, %s", place, town, g.country)

	osm := g.lookup(ctx, g.osm, query)
	commercial := g.lookup(ctx, g.commercial, query)

	coords, confidence := Reconcile(osm, commercial)
	if osm != nil && commercial != nil && confidence == camino.ConfidenceLow {
		g.logger.Warn("providers disagree, preferring commercial estimate",
			zap.String("query", query),
			zap.Float64("distance_m", DistanceMeters(osm.Lat, osm.Lon, commercial.Lat, commercial.Lon)),
		)
	}
	return coords, confidence
}

func (g *Geocoder) lookup(ctx context.Context, p Provider, query string) *Estimate {
	if p == nil {
		return nil
	}
	est, err := p.Geocode(ctx, query)
	if err != nil {
		g.logger.Warn("geocode lookup failed",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Error(err),
		)
		return nil
	}
	return est
}
