// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Images   ImagesConfig   `mapstructure:"images"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Export   ExportConfig   `mapstructure:"export"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RouteConfig names one pilgrimage route and its index page.
type RouteConfig struct {
	Name     string `mapstructure:"name"`
	IndexURL string `mapstructure:"index_url"`
}

// SiteConfig describes the source website and its link structure.
type SiteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Routes  []RouteConfig `mapstructure:"routes"`
	// TownLinkPattern and LocationLinkPattern are href substrings that mark
	// town and stamp-location links in the site navigation.
	TownLinkPattern     string `mapstructure:"town_link_pattern"`
	LocationLinkPattern string `mapstructure:"location_link_pattern"`
}

// HTTPConfig configures fetching, retry and rate limiting behavior.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RatePerHost      float64 `mapstructure:"rate_per_host"`
	Burst            int     `mapstructure:"burst"`
}

// ImagesConfig sets where stamp images are archived.
type ImagesConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// GeocodeConfig holds provider endpoints and the country bias.
type GeocodeConfig struct {
	NominatimURL string `mapstructure:"nominatim_url"`
	GoogleURL    string `mapstructure:"google_url"`
	GoogleAPIKey string `mapstructure:"google_api_key"`
	CountryCode  string `mapstructure:"country_code"`
}

// PipelineConfig governs the enrichment worker pool.
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

// ExportConfig sets where the CSV and GeoJSON datasets are written.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the optional debug/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAMINO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.lossellosdelcamino.com")
	v.SetDefault("site.town_link_pattern", "category/")
	v.SetDefault("site.location_link_pattern", "/item/")
	v.SetDefault("http.user_agent", "camino-stamps-bot/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.rate_per_host", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.max_bytes", 10*1024*1024)
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.google_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.country_code", "es")
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("export.dir", "data")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Site.Routes) == 0 {
		return fmt.Errorf("site.routes must list at least one route")
	}
	for i, r := range c.Site.Routes {
		if r.Name == "" || r.IndexURL == "" {
			return fmt.Errorf("site.routes[%d] needs both name and index_url", i)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.RatePerHost <= 0 {
		return fmt.Errorf("http.rate_per_host must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
