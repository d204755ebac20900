package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/api"
	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/categories"
	"github.com/caminotrails/stamp-crawler/internal/config"
	"github.com/caminotrails/stamp-crawler/internal/discovery"
	"github.com/caminotrails/stamp-crawler/internal/export"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/geocode"
	"github.com/caminotrails/stamp-crawler/internal/images"
	"github.com/caminotrails/stamp-crawler/internal/logging"
	"github.com/caminotrails/stamp-crawler/internal/metrics"
	"github.com/caminotrails/stamp-crawler/internal/pipeline"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

func newScrapeCmd() *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the full scrape, geocode and export pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(noProgress)
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the terminal progress bar")
	return cmd
}

func runScrape(noProgress bool) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg, logger, noProgress)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := api.New(cfg.Server.Port, p, logging.Stage(logger, "api"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	routes := make([]camino.Route, 0, len(cfg.Site.Routes))
	for _, r := range cfg.Site.Routes {
		routes = append(routes, camino.Route{Name: r.Name, IndexURL: r.IndexURL})
	}

	locs, report := p.Run(ctx, routes)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scrape interrupted: %w", err)
	}

	if err := export.WriteFiles(cfg.Export.Dir, locs); err != nil {
		return fmt.Errorf("writing export files: %w", err)
	}

	logger.Info("scrape complete",
		zap.String("run_id", report.RunID),
		zap.Int("locations", len(locs)),
		zap.String("export_dir", cfg.Export.Dir),
	)
	return nil
}

func buildPipeline(cfg config.Config, logger *zap.Logger, noProgress bool) (*pipeline.Pipeline, error) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RatePerHost,
		Burst:             cfg.HTTP.Burst,
	})
	retry := fetcher.NewRetryPolicy(cfg.HTTP.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax())

	f := fetcher.New(fetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, limiter, retry, logging.Stage(logger, "fetcher"))

	disc, err := discovery.New(discovery.Config{
		BaseURL:             cfg.Site.BaseURL,
		TownLinkPattern:     cfg.Site.TownLinkPattern,
		LocationLinkPattern: cfg.Site.LocationLinkPattern,
	}, f, logging.Stage(logger, "discovery"))
	if err != nil {
		return nil, fmt.Errorf("building discoverer: %w", err)
	}

	archiver, err := images.New(images.Config{
		BaseDir:   cfg.Images.Dir,
		MaxBytes:  cfg.Images.MaxBytes,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, limiter, retry, logging.Stage(logger, "images"))
	if err != nil {
		return nil, fmt.Errorf("building image archiver: %w", err)
	}

	osm := geocode.NewNominatim(geocode.ClientConfig{
		BaseURL:     cfg.Geocode.NominatimURL,
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		CountryCode: cfg.Geocode.CountryCode,
	}, limiter, retry)

	var commercial geocode.Provider
	if cfg.Geocode.GoogleAPIKey != "" {
		commercial = geocode.NewGoogle(geocode.ClientConfig{
			BaseURL:     cfg.Geocode.GoogleURL,
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.RequestTimeout(),
			CountryCode: cfg.Geocode.CountryCode,
		}, cfg.Geocode.GoogleAPIKey, limiter, retry)
	} else {
		logger.Warn("no Google API key configured, geocoding with Nominatim only")
	}

	geocoder := geocode.New(osm, commercial, "Spain", logging.Stage(logger, "geocode"))

	opts := pipeline.Options{
		BaseURL: cfg.Site.BaseURL,
		Workers: cfg.Pipeline.Workers,
	}
	if !noProgress {
		opts.Progress = newProgressFunc()
	}

	return pipeline.New(pipeline.Deps{
		Discoverer:   disc,
		Fetcher:      f,
		Extractor:    categories.NewExtractor(logging.Stage(logger, "categories")),
		Standardizer: categories.NewStandardizer(),
		Archiver:     archiver,
		Geocoder:     geocoder,
	}, opts, logger), nil
}

// newProgressFunc lazily creates a progress bar sized to the first total it
// sees, and resets it when a new total arrives (each route reports its own
// location count).
func newProgressFunc() func(done, total int) {
	var (
		bar      *progressbar.ProgressBar
		barTotal int
	)
	return func(done, total int) {
		if bar == nil || total != barTotal {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("locations"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			barTotal = total
		}
		bar.Set(done) //nolint:errcheck
	}
}
