// Package pipeline drives the full scrape: discovery, page enrichment,
// image archiving, geocoding and category standardization, with a run
// report of everything that came back incomplete.
package pipeline

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/categories"
	"github.com/caminotrails/stamp-crawler/internal/discovery"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/geocode"
	"github.com/caminotrails/stamp-crawler/internal/images"
)

// Deps bundles the stage implementations the pipeline drives.
type Deps struct {
	Discoverer   *discovery.Discoverer
	Fetcher      *fetcher.Fetcher
	Extractor    *categories.Extractor
	Standardizer *categories.Standardizer
	Archiver     *images.Archiver
	Geocoder     *geocode.Geocoder
}

// Options tunes pipeline execution.
type Options struct {
	// BaseURL resolves relative image sources found on location pages.
	BaseURL string
	// Workers bounds concurrent per-location enrichment. Each worker
	// respects the shared per-host rate limiter; all other per-location
	// state is independent. Zero or negative means sequential.
	Workers int
	// Progress, when set, is called after each location finishes a stage
	// pass, with the number done and the total.
	Progress func(done, total int)
}

// Pipeline runs the scrape over configured routes.
type Pipeline struct {
	deps   Deps
	opts   Options
	base   *url.URL
	logger *zap.Logger

	mu         sync.Mutex
	lastReport *camino.RunReport
}

// New builds a Pipeline.
func New(deps Deps, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, _ := url.Parse(opts.BaseURL)
	return &Pipeline{deps: deps, opts: opts, base: base, logger: logger}
}

// LastReport returns the report of the most recent run, or nil before the
// first run completes. Safe for concurrent use with Run.
func (p *Pipeline) LastReport() *camino.RunReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// Run processes every route and returns the accumulated locations in
// route→town→page encounter order plus the run report. A fatal error on
// one route aborts only that route; per-location misses degrade the record
// and are counted, never raised.
func (p *Pipeline) Run(ctx context.Context, routes []camino.Route) ([]camino.StampLocation, camino.RunReport) {
	report := camino.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	var all []camino.StampLocation
	for _, route := range routes {
		locs, routeReport := p.runRoute(ctx, route)
		all = append(all, locs...)
		report.Routes = append(report.Routes, routeReport)
		if ctx.Err() != nil {
			break
		}
	}
	report.FinishedAt = time.Now().UTC()

	p.mu.Lock()
	p.lastReport = &report
	p.mu.Unlock()

	p.logSummary(report)
	return all, report
}

func (p *Pipeline) runRoute(ctx context.Context, route camino.Route) ([]camino.StampLocation, camino.RouteReport) {
	rep := camino.RouteReport{Route: route.Name}

	locs, err := p.deps.Discoverer.Discover(ctx, route)
	if err != nil {
		p.logger.Error("route discovery failed, skipping route",
			zap.String("route", route.Name),
			zap.String("url", route.IndexURL),
			zap.Error(err),
		)
		rep.Fatal = err.Error()
		return nil, rep
	}
	rep.Locations = len(locs)
	rep.Towns = countTowns(locs)

	counters := &routeCounters{}
	p.enrichAll(ctx, locs, counters)
	p.geocodeAll(ctx, locs, counters)
	for i := range locs {
		locs[i].EnglishCategories = p.deps.Standardizer.Standardize(locs[i].RawCategories)
	}

	counters.fill(&rep)
	return locs, rep
}

// enrichAll fetches each location page and fills place name, categories and
// image path. Locations are independent, so a bounded worker pool writes
// each entry in place; the slice order is never disturbed.
func (p *Pipeline) enrichAll(ctx context.Context, locs []camino.StampLocation, counters *routeCounters) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	done := 0
	var progressMu sync.Mutex

	for w := 0; w < p.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p.enrich(ctx, &locs[i], counters)
				if p.opts.Progress != nil {
					progressMu.Lock()
					done++
					p.opts.Progress(done, len(locs))
					progressMu.Unlock()
				}
			}
		}()
	}

	for i := range locs {
		if ctx.Err() != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func (p *Pipeline) enrich(ctx context.Context, loc *camino.StampLocation, counters *routeCounters) {
	res, err := p.deps.Fetcher.Fetch(ctx, loc.PageURL)
	if err != nil {
		p.logger.Error("location page failed",
			zap.String("route", loc.Town.Route.Name),
			zap.String("town", loc.Town.Name),
			zap.String("url", loc.PageURL),
			zap.Int("attempts", res.Attempts),
			zap.Error(err),
		)
		counters.add(func(c *camino.RouteReport) {
			c.PagesFailed++
			c.MissingCategories++
			c.MissingImages++
		})
		return
	}

	if name := categories.PlaceName(res.Doc); name != "" {
		loc.PlaceName = name
	}

	cats, matched := p.deps.Extractor.Extract(res.Doc)
	loc.RawCategories = cats
	if !matched {
		p.logger.Warn("no categories found",
			zap.String("route", loc.Town.Route.Name),
			zap.String("place", loc.PlaceName),
			zap.String("url", loc.PageURL),
		)
		counters.add(func(c *camino.RouteReport) { c.MissingCategories++ })
	}

	imageURL := images.FindImageURL(res.Doc, p.base)
	path, err := p.deps.Archiver.Archive(ctx, *loc, imageURL)
	if err != nil || path == "" {
		counters.add(func(c *camino.RouteReport) { c.MissingImages++ })
		return
	}
	loc.ImagePath = path
}

func (p *Pipeline) geocodeAll(ctx context.Context, locs []camino.StampLocation, counters *routeCounters) {
	for i := range locs {
		if ctx.Err() != nil {
			return
		}
		coords, confidence := p.deps.Geocoder.Resolve(ctx, locs[i].PlaceName, locs[i].Town.Name)
		locs[i].Coordinates = coords
		locs[i].Confidence = confidence
		switch confidence {
		case camino.ConfidenceFailed:
			counters.add(func(c *camino.RouteReport) { c.FailedGeocodes++ })
		case camino.ConfidenceLow:
			counters.add(func(c *camino.RouteReport) { c.LowConfidence++ })
		}
	}
}

func (p *Pipeline) logSummary(report camino.RunReport) {
	for _, r := range report.Routes {
		p.logger.Info("route complete",
			zap.String("route", r.Route),
			zap.Int("towns", r.Towns),
			zap.Int("locations", r.Locations),
			zap.Int("pages_failed", r.PagesFailed),
			zap.Int("missing_categories", r.MissingCategories),
			zap.Int("missing_images", r.MissingImages),
			zap.Int("failed_geocodes", r.FailedGeocodes),
			zap.Int("low_confidence", r.LowConfidence),
			zap.String("fatal", r.Fatal),
		)
	}
	p.logger.Info("run complete",
		zap.String("run_id", report.RunID),
		zap.Int("locations", report.TotalLocations()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
}

func countTowns(locs []camino.StampLocation) int {
	seen := make(map[string]struct{})
	for _, loc := range locs {
		seen[loc.Town.PageURL] = struct{}{}
	}
	return len(seen)
}

// routeCounters guards the per-route report fields against concurrent
// worker updates.
type routeCounters struct {
	mu  sync.Mutex
	rep camino.RouteReport
}

func (c *routeCounters) add(fn func(*camino.RouteReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.rep)
}

func (c *routeCounters) fill(rep *camino.RouteReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rep.PagesFailed = c.rep.PagesFailed
	rep.MissingCategories = c.rep.MissingCategories
	rep.MissingImages = c.rep.MissingImages
	rep.FailedGeocodes = c.rep.FailedGeocodes
	rep.LowConfidence = c.rep.LowConfidence
}
