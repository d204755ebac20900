// Package discovery walks the fixed route → town → stamp-location hierarchy
// of the source website and produces location identities for enrichment.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
)

// Config describes how town and location links are recognized in the site
// navigation.
type Config struct {
	BaseURL string
	// TownLinkPattern marks town category pages, LocationLinkPattern marks
	// individual stamp-location pages. Both are href substrings.
	TownLinkPattern     string
	LocationLinkPattern string
}

// Discoverer enumerates the towns and stamp locations of a route.
type Discoverer struct {
	cfg     Config
	fetcher *fetcher.Fetcher
	base    *url.URL
	logger  *zap.Logger
}

// New builds a Discoverer. BaseURL must parse; relative hrefs in the site
// navigation are resolved against it.
func New(cfg Config, f *fetcher.Fetcher, logger *zap.Logger) (*Discoverer, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.TownLinkPattern == "" {
		cfg.TownLinkPattern = "category/"
	}
	if cfg.LocationLinkPattern == "" {
		cfg.LocationLinkPattern = "/item/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, fetcher: f, base: base, logger: logger}, nil
}

// Discover fetches the route index and every town page, returning stamp
// locations with identity fields only, in page encounter order. Location
// URLs already seen within the route are skipped. Finding no towns at all
// is fatal for the route; a town with no locations is logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, route camino.Route) ([]camino.StampLocation, error) {
	res, err := d.fetcher.Fetch(ctx, route.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("route %s index: %w", route.Name, err)
	}

	towns := d.townLinks(route, res.Doc)
	if len(towns) == 0 {
		return nil, fmt.Errorf("route %s: no town links found at %s", route.Name, route.IndexURL)
	}
	d.logger.Info("towns discovered",
		zap.String("route", route.Name),
		zap.Int("count", len(towns)),
	)

	seen := make(map[string]struct{})
	var locations []camino.StampLocation
	for _, town := range towns {
		townLocs, err := d.townLocations(ctx, town)
		if err != nil {
			d.logger.Error("town page failed, skipping",
				zap.String("route", route.Name),
				zap.String("town", town.Name),
				zap.String("url", town.PageURL),
				zap.Error(err),
			)
			continue
		}
		if len(townLocs) == 0 {
			d.logger.Warn("town yielded no stamp locations",
				zap.String("route", route.Name),
				zap.String("town", town.Name),
			)
			continue
		}
		for _, loc := range townLocs {
			if _, dup := seen[loc.PageURL]; dup {
				continue
			}
			seen[loc.PageURL] = struct{}{}
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

// townLinks scans the route index for town category links, preserving page
// order and dropping duplicates.
func (d *Discoverer) townLinks(route camino.Route, doc *goquery.Document) []camino.Town {
	var towns []camino.Town
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, d.cfg.TownLinkPattern) {
			return
		}
		full := d.resolve(href)
		if full == "" {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		towns = append(towns, camino.Town{
			Route:   route,
			Name:    townNameFromURL(full),
			PageURL: full,
		})
	})
	return towns
}

func (d *Discoverer) townLocations(ctx context.Context, town camino.Town) ([]camino.StampLocation, error) {
	res, err := d.fetcher.Fetch(ctx, town.PageURL)
	if err != nil {
		return nil, err
	}

	var locs []camino.StampLocation
	seen := make(map[string]struct{})
	res.Doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, d.cfg.LocationLinkPattern) {
			return
		}
		full := d.resolve(href)
		if full == "" {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		locs = append(locs, camino.StampLocation{
			Town:      town,
			PlaceName: strings.TrimSpace(sel.Text()),
			PageURL:   full,
		})
	})
	return locs, nil
}

func (d *Discoverer) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := d.base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// townNameFromURL derives a display name from the slug after the category
// segment of a town URL, e.g. ".../category/cizur-menor" → "Cizur Menor".
func townNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "Unknown Town"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := ""
	for i, part := range parts {
		if strings.HasPrefix(part, "category") && i+1 < len(parts) {
			slug = parts[i+1]
			break
		}
	}
	if slug == "" && len(parts) > 0 {
		slug = parts[len(parts)-1]
	}
	if slug == "" {
		return "Unknown Town"
	}
	slug = strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return titleCase(slug)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}
