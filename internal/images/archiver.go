// Package images downloads stamp images and persists them under a
// collision-resistant name derived from the location and the file content.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/metrics"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

// Config captures the parameters of the image archive.
type Config struct {
	// BaseDir is the root directory for stored images.
	BaseDir string
	// MaxBytes rejects bodies larger than this; oversized responses are
	// almost never stamp images. Zero means 10 MB.
	MaxBytes int64
	// UserAgent for download requests.
	UserAgent string
	// Timeout per download attempt.
	Timeout time.Duration
}

// Archiver downloads and stores stamp images. Downloads share the fetcher's
// retry policy and the per-host rate limiter.
type Archiver struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   *fetcher.RetryPolicy
	logger  *zap.Logger
}

// New creates an Archiver rooted at cfg.BaseDir, creating it if needed.
func New(cfg Config, limiter *ratelimit.Limiter, retry *fetcher.RetryPolicy, logger *zap.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 * 1024 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Archiver{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}, nil
}

// FindImageURL picks the stamp image source from a location page: the site
// serves stamps from media/zoo/images; failing that, the first image that is
// not obvious page chrome. Returns "" when the page has no usable image.
func FindImageURL(doc *goquery.Document, base *url.URL) string {
	var found string
	doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		if strings.Contains(src, "media/zoo/images") {
			found = src
			return false
		}
		return true
	})
	if found == "" {
		doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			src, _ := sel.Attr("src")
			if isChrome(src) {
				return true
			}
			found = src
			return false
		})
	}
	if found == "" {
		return ""
	}
	ref, err := url.Parse(found)
	if err != nil {
		return ""
	}
	if base != nil {
		return base.ResolveReference(ref).String()
	}
	return ref.String()
}

func isChrome(src string) bool {
	lower := strings.ToLower(src)
	for _, skip := range []string{"logo", "nav", "header", "footer", "banner"} {
		if strings.Contains(lower, skip) {
			return true
		}
	}
	return false
}

// Archive downloads imageURL and stores it for loc, returning the stored
// path. An empty imageURL or exhausted retries yield "", nil: the location
// is retained without an image, never dropped.
func (a *Archiver) Archive(ctx context.Context, loc camino.StampLocation, imageURL string) (string, error) {
	if imageURL == "" {
		return "", nil
	}

	var lastErr error
	for attempt := 1; attempt <= a.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := a.limiter.Wait(ctx, imageURL); err != nil {
			return "", err
		}

		data, code, err := a.download(ctx, imageURL)
		if err == nil {
			return a.store(loc, imageURL, data)
		}
		lastErr = err
		if !a.retry.Retryable(code, err) {
			break
		}
		if attempt < a.retry.MaxAttempts() {
			fetcher.Pause(ctx, a.retry.Backoff(attempt))
		}
	}

	a.logger.Warn("image download failed, keeping location without image",
		zap.String("route", loc.Town.Route.Name),
		zap.String("town", loc.Town.Name),
		zap.String("place", loc.PlaceName),
		zap.String("image_url", imageURL),
		zap.Error(lastErr),
	)
	return "", nil
}

func (a *Archiver) download(ctx context.Context, imageURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, resp.StatusCode, fmt.Errorf("not an image: content type %q", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > a.cfg.MaxBytes {
		return nil, resp.StatusCode, fmt.Errorf("image exceeds %d bytes", a.cfg.MaxBytes)
	}
	if len(data) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("empty image body")
	}
	return data, resp.StatusCode, nil
}

// store writes the image under <base>/<route-slug>/<place-slug>_<hash12><ext>.
// The content hash suffix keeps names stable and collision resistant even
// when locations share a display name.
func (a *Archiver) store(loc camino.StampLocation, imageURL string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	name := fmt.Sprintf("%s_%s%s", Slug(loc.PlaceName), hex.EncodeToString(sum[:])[:12], extension(imageURL))
	fullPath := filepath.Join(a.cfg.BaseDir, Slug(loc.Town.Route.Name), name)

	// Keep writes inside the base directory.
	cleanBase := filepath.Clean(a.cfg.BaseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	metrics.ObserveImageArchived(int64(len(data)))
	return fullPath, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes a display name into a filesystem-safe identifier.
func Slug(name string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

func extension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ".img"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	}
	return ".img"
}
