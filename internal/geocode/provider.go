// Package geocode resolves location addresses to coordinates through two
// independent providers and reconciles their estimates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/metrics"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

// Estimate is one provider's coordinate guess for a query. Ephemeral: two
// estimates are reconciled into the final pair and discarded.
type Estimate struct {
	Provider string
	Lat      float64
	Lon      float64
}

// Provider resolves a free-text query to an Estimate. A nil Estimate with a
// nil error means the provider found nothing.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*Estimate, error)
}

// ClientConfig is shared by both provider clients.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// CountryCode biases results, e.g. "es".
	CountryCode string
}

type httpDeps struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   *fetcher.RetryPolicy
	ua      string
}

// getJSON performs a retrying GET and decodes the JSON body into out.
// Each provider host has its own bucket in the shared limiter, so the two
// providers' quotas never interfere.
func (d httpDeps) getJSON(ctx context.Context, rawURL string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.limiter.Wait(ctx, rawURL); err != nil {
			return err
		}

		code, err := d.getOnce(ctx, rawURL, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !d.retry.Retryable(code, err) {
			return err
		}
		if attempt < d.retry.MaxAttempts() {
			fetcher.Pause(ctx, d.retry.Backoff(attempt))
		}
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func (d httpDeps) getOnce(ctx context.Context, rawURL string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if d.ua != "" {
		req.Header.Set("User-Agent", d.ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("geocode request: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read geocode body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode geocode body: %w", err)
	}
	return resp.StatusCode, nil
}

// NominatimClient queries the OSM-backed Nominatim search endpoint.
type NominatimClient struct {
	cfg  ClientConfig
	deps httpDeps
}

// NewNominatim builds a NominatimClient.
func NewNominatim(cfg ClientConfig, limiter *ratelimit.Limiter, retry *fetcher.RetryPolicy) *NominatimClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &NominatimClient{
		cfg: cfg,
		deps: httpDeps{
			client:  &http.Client{Timeout: cfg.Timeout},
			limiter: limiter,
			retry:   retry,
			ua:      cfg.UserAgent,
		},
	}
}

// Name implements Provider.
func (c *NominatimClient) Name() string { return "nominatim" }

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode implements Provider.
func (c *NominatimClient) Geocode(ctx context.Context, query string) (*Estimate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	if c.cfg.CountryCode != "" {
		params.Set("countrycodes", c.cfg.CountryCode)
	}

	var results []nominatimResult
	if err := c.deps.getJSON(ctx, c.cfg.BaseURL+"?"+params.Encode(), &results); err != nil {
		metrics.ObserveGeocode(c.Name(), "error")
		return nil, err
	}
	if len(results) == 0 {
		metrics.ObserveGeocode(c.Name(), "miss")
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim longitude %q: %w", results[0].Lon, err)
	}
	metrics.ObserveGeocode(c.Name(), "hit")
	return &Estimate{Provider: c.Name(), Lat: lat, Lon: lon}, nil
}

// GoogleClient queries the Google Maps Geocoding API.
type GoogleClient struct {
	cfg    ClientConfig
	apiKey string
	deps   httpDeps
}

// NewGoogle builds a GoogleClient. The API key is required; callers without
// one should not construct the client at all.
func NewGoogle(cfg ClientConfig, apiKey string, limiter *ratelimit.Limiter, retry *fetcher.RetryPolicy) *GoogleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &GoogleClient{
		cfg:    cfg,
		apiKey: apiKey,
		deps: httpDeps{
			client:  &http.Client{Timeout: cfg.Timeout},
			limiter: limiter,
			retry:   retry,
			ua:      cfg.UserAgent,
		},
	}
}

// Name implements Provider.
func (c *GoogleClient) Name() string { return "google" }

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode implements Provider.
func (c *GoogleClient) Geocode(ctx context.Context, query string) (*Estimate, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", c.apiKey)
	params.Set("language", "en")
	if c.cfg.CountryCode != "" {
		params.Set("region", c.cfg.CountryCode)
	}

	var resp googleResponse
	if err := c.deps.getJSON(ctx, c.cfg.BaseURL+"?"+params.Encode(), &resp); err != nil {
		metrics.ObserveGeocode(c.Name(), "error")
		return nil, err
	}
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		metrics.ObserveGeocode(c.Name(), "miss")
		return nil, nil
	default:
		metrics.ObserveGeocode(c.Name(), "error")
		return nil, fmt.Errorf("google geocode status %s", resp.Status)
	}
	if len(resp.Results) == 0 {
		metrics.ObserveGeocode(c.Name(), "miss")
		return nil, nil
	}

	loc := resp.Results[0].Geometry.Location
	metrics.ObserveGeocode(c.Name(), "hit")
	return &Estimate{Provider: c.Name(), Lat: loc.Lat, Lon: loc.Lng}, nil
}
