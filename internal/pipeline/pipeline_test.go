package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/categories"
	"github.com/caminotrails/stamp-crawler/internal/discovery"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/geocode"
	"github.com/caminotrails/stamp-crawler/internal/images"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

// fixedProvider always returns the same estimate.
type fixedProvider struct {
	name string
	est  *geocode.Estimate
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) Geocode(context.Context, string) (*geocode.Estimate, error) {
	return p.est, nil
}

// testSite serves a minimal route with one town and two locations: one
// fully populated, one with no categories and no image.
func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/navarro", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/category/roncesvalles">Roncesvalles</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/roncesvalles", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/item/albergue">Albergue</a>
			<a href="/item/bare">Bare</a>
		</body></html>`)
	})
	mux.HandleFunc("/item/albergue", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1>Albergue de la Colegiata</h1>
			<div class="element-itemcategory">
				<a href="/c/1">Albergues de Peregrinos</a>
			</div>
			<img src="/media/zoo/images/sello.jpg">
		</body></html>`)
	})
	mux.HandleFunc("/item/bare", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Sitio Sin Datos</h1></body></html>`)
	})
	mux.HandleFunc("/media/zoo/images/sello.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake jpeg content")) //nolint:errcheck
	})

	return srv
}

func testPipeline(t *testing.T, baseURL string, workers int, progress func(done, total int)) *Pipeline {
	t.Helper()

	limiter := ratelimit.New(ratelimit.Config{})
	retry := fetcher.NewRetryPolicy(2, time.Millisecond, 5*time.Millisecond)
	f := fetcher.New(fetcher.Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, limiter, retry, nil)

	disc, err := discovery.New(discovery.Config{BaseURL: baseURL}, f, nil)
	require.NoError(t, err)

	archiver, err := images.New(images.Config{BaseDir: t.TempDir(), UserAgent: "test-agent"}, limiter, retry, nil)
	require.NoError(t, err)

	osm := &fixedProvider{name: "nominatim", est: &geocode.Estimate{Provider: "nominatim", Lat: 43.0093, Lon: -1.3195}}
	goog := &fixedProvider{name: "google", est: &geocode.Estimate{Provider: "google", Lat: 43.00931, Lon: -1.31951}}

	return New(Deps{
		Discoverer:   disc,
		Fetcher:      f,
		Extractor:    categories.NewExtractor(nil),
		Standardizer: categories.NewStandardizer(),
		Archiver:     archiver,
		Geocoder:     geocode.New(osm, goog, "Spain", nil),
	}, Options{BaseURL: baseURL, Workers: workers, Progress: progress}, nil)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv := testSite(t)
	p := testPipeline(t, srv.URL, 2, nil)

	route := camino.Route{Name: "Camino Navarro", IndexURL: srv.URL + "/navarro"}
	locs, report := p.Run(context.Background(), []camino.Route{route})

	require.Len(t, locs, 2)

	full := locs[0]
	require.Equal(t, "Albergue de la Colegiata", full.PlaceName)
	require.Equal(t, "Roncesvalles", full.Town.Name)
	require.Equal(t, []string{"Albergues de Peregrinos"}, full.RawCategories)
	require.Equal(t, []string{"Pilgrim hostels"}, full.EnglishCategories)
	require.NotEmpty(t, full.ImagePath)
	require.NotNil(t, full.Coordinates)
	require.Equal(t, camino.ConfidenceHigh, full.Confidence)

	bare := locs[1]
	require.Equal(t, "Sitio Sin Datos", bare.PlaceName)
	require.Empty(t, bare.RawCategories)
	require.Empty(t, bare.ImagePath)
	require.NotNil(t, bare.Coordinates, "geocoding still runs without categories")

	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Routes, 1)
	r := report.Routes[0]
	require.Equal(t, 1, r.Towns)
	require.Equal(t, 2, r.Locations)
	require.Equal(t, 0, r.PagesFailed)
	require.Equal(t, 1, r.MissingCategories)
	require.Equal(t, 1, r.MissingImages)
	require.Equal(t, 0, r.FailedGeocodes)
	require.Empty(t, r.Fatal)
	require.Equal(t, 2, report.TotalLocations())
}

func TestRunRecordsLastReport(t *testing.T) {
	t.Parallel()

	srv := testSite(t)
	p := testPipeline(t, srv.URL, 1, nil)
	require.Nil(t, p.LastReport())

	route := camino.Route{Name: "Camino Navarro", IndexURL: srv.URL + "/navarro"}
	_, report := p.Run(context.Background(), []camino.Route{route})

	last := p.LastReport()
	require.NotNil(t, last)
	require.Equal(t, report.RunID, last.RunID)
}

func TestRunReportsProgress(t *testing.T) {
	t.Parallel()

	srv := testSite(t)

	var mu sync.Mutex
	var calls [][2]int
	p := testPipeline(t, srv.URL, 2, func(done, total int) {
		mu.Lock()
		calls = append(calls, [2]int{done, total})
		mu.Unlock()
	})

	route := camino.Route{Name: "Camino Navarro", IndexURL: srv.URL + "/navarro"}
	p.Run(context.Background(), []camino.Route{route})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	require.Equal(t, [2]int{2, 2}, calls[1])
}

func TestRunFatalRouteIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>no town links</body></html>`)
	}))
	defer srv.Close()

	p := testPipeline(t, srv.URL, 1, nil)
	route := camino.Route{Name: "Camino Roto", IndexURL: srv.URL + "/broken"}
	locs, report := p.Run(context.Background(), []camino.Route{route})

	require.Empty(t, locs)
	require.Len(t, report.Routes, 1)
	require.NotEmpty(t, report.Routes[0].Fatal)
	require.Equal(t, 0, report.Routes[0].Locations)
}

func TestRunFailedLocationPageDegrades(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/route", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/category/town">Town</a></body></html>`)
	})
	mux.HandleFunc("/category/town", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/item/gone">Gone</a></body></html>`)
	})
	mux.HandleFunc("/item/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	p := testPipeline(t, srv.URL, 1, nil)
	route := camino.Route{Name: "Camino", IndexURL: srv.URL + "/route"}
	locs, report := p.Run(context.Background(), []camino.Route{route})

	require.Len(t, locs, 1, "the location survives with identity fields only")
	require.Equal(t, "Gone", locs[0].PlaceName, "anchor text is kept when the page fails")

	r := report.Routes[0]
	require.Equal(t, 1, r.PagesFailed)
	require.Equal(t, 1, r.MissingCategories)
	require.Equal(t, 1, r.MissingImages)
}
