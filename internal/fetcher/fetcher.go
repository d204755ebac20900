// Package fetcher performs rate-limited, retrying HTTP GETs against the
// source website and parses successful responses into goquery documents.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/caminotrails/stamp-crawler/internal/metrics"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

// Status classifies the outcome of a fetch.
type Status int

const (
	StatusOK Status = iota
	StatusRetryable
	StatusFatal
)

// ErrFatal marks a failure that must not be retried: a non-429 4xx response
// or an exhausted retry budget.
var ErrFatal = errors.New("fatal fetch error")

// Result is the outcome of one Fetch call, including how many attempts were
// spent on it.
type Result struct {
	Status     Status
	StatusCode int
	Doc        *goquery.Document
	Body       []byte
	Attempts   int
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher wraps a Colly collector with the shared rate limiter and retry
// policy. Safe for concurrent use; every request runs on its own clone of
// the base collector.
type Fetcher struct {
	cfg     Config
	base    *colly.Collector
	limiter *ratelimit.Limiter
	retry   *RetryPolicy
	logger  *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, limiter *ratelimit.Limiter, retry *RetryPolicy, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	// Retries revisit the same URL, so the collector must not dedupe.
	base.AllowURLRevisit = true
	base.WithTransport(newHTTPTransport(cfg.Timeout))
	base.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:     cfg,
		base:    base,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}
}

// Fetch retrieves rawURL, retrying transient failures per the retry policy.
// The returned Result always carries the attempt count. The error is non-nil
// exactly when Result.Status is not StatusOK.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	host := hostOf(rawURL)
	start := time.Now()

	var (
		lastCode int
		lastErr  error
	)
	for attempt := 1; attempt <= f.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Status: StatusFatal, Attempts: attempt - 1}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return Result{Status: StatusFatal, Attempts: attempt - 1}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		code, body, err := f.visit(ctx, rawURL)
		if err == nil {
			doc, perr := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if perr != nil {
				metrics.ObservePageFetched(host, "fatal", time.Since(start))
				return Result{Status: StatusFatal, StatusCode: code, Attempts: attempt},
					fmt.Errorf("parse %s: %w", rawURL, perr)
			}
			metrics.ObservePageFetched(host, "ok", time.Since(start))
			return Result{Status: StatusOK, StatusCode: code, Doc: doc, Body: body, Attempts: attempt}, nil
		}

		lastCode, lastErr = code, err
		if !f.retry.Retryable(code, err) {
			metrics.ObservePageFetched(host, "fatal", time.Since(start))
			return Result{Status: StatusFatal, StatusCode: code, Attempts: attempt},
				fmt.Errorf("fetch %s (status %d): %w: %w", rawURL, code, ErrFatal, err)
		}
		if attempt < f.retry.MaxAttempts() {
			metrics.ObserveFetchRetry(host)
			backoff := f.retry.Backoff(attempt)
			f.logger.Warn("retrying fetch",
				zap.String("url", rawURL),
				zap.Int("status_code", code),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			Pause(ctx, backoff)
		}
	}

	metrics.ObservePageFetched(host, "exhausted", time.Since(start))
	return Result{Status: StatusFatal, StatusCode: lastCode, Attempts: f.retry.MaxAttempts()},
		fmt.Errorf("fetch %s: retries exhausted after %d attempts: %w: %w",
			rawURL, f.retry.MaxAttempts(), ErrFatal, lastErr)
}

// visit executes a single HTTP GET on a fresh collector clone.
func (f *Fetcher) visit(ctx context.Context, rawURL string) (int, []byte, error) {
	collector := f.base.Clone()

	var (
		once sync.Once
		code int
		body []byte
		ferr error
	)
	collector.OnResponse(func(r *colly.Response) {
		once.Do(func() {
			code = r.StatusCode
			body = append([]byte(nil), r.Body...)
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		once.Do(func() {
			if r != nil {
				code = r.StatusCode
			}
			ferr = err
		})
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case visitErr := <-done:
		if ferr != nil {
			return code, nil, ferr
		}
		if visitErr != nil {
			return code, nil, visitErr
		}
		return code, body, nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
