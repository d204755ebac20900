package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

func testFetcher(maxAttempts int) *Fetcher {
	return New(
		Config{UserAgent: "test-agent", Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{}),
		NewRetryPolicy(maxAttempts, time.Millisecond, 5*time.Millisecond),
		nil,
	)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.UserAgent())
		fmt.Fprint(w, `<html><body><h1>Albergue Municipal</h1></body></html>`)
	}))
	defer srv.Close()

	res, err := testFetcher(3).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, "Albergue Municipal", res.Doc.Find("h1").Text())
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	res, err := testFetcher(5).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := testFetcher(3).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, StatusFatal, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchClientErrorIsImmediatelyFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := testFetcher(5).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, StatusFatal, res.Status)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, 1, res.Attempts, "4xx must not be retried")
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher(3).Fetch(ctx, srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "stamps.test", hostOf("https://stamps.test/item/1"))
	require.Equal(t, "unknown", hostOf("::not-a-url::"))
	require.Equal(t, "unknown", hostOf("/relative/path"))
}
