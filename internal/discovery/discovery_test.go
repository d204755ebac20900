package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caminotrails/stamp-crawler/internal/camino"
	"github.com/caminotrails/stamp-crawler/internal/fetcher"
	"github.com/caminotrails/stamp-crawler/internal/ratelimit"
)

func testDiscoverer(t *testing.T, baseURL string) *Discoverer {
	t.Helper()
	f := fetcher.New(
		fetcher.Config{UserAgent: "test-agent", Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{}),
		fetcher.NewRetryPolicy(2, time.Millisecond, 5*time.Millisecond),
		nil,
	)
	d, err := New(Config{BaseURL: baseURL}, f, nil)
	require.NoError(t, err)
	return d
}

func TestDiscoverWalksHierarchyInOrder(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/navarro", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/about">About</a>
			<a href="/category/roncesvalles">Roncesvalles</a>
			<a href="/category/zubiri">Zubiri</a>
			<a href="/category/roncesvalles">Roncesvalles again</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/roncesvalles", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/item/albergue-colegiata">Albergue de la Colegiata</a>
			<a href="/item/iglesia-santiago">Iglesia de Santiago</a>
			<a href="/item/albergue-colegiata">duplicate</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/zubiri", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/item/iglesia-santiago">shared with roncesvalles</a>
			<a href="/item/bar-valentin">Bar Valentín</a>
		</body></html>`)
	})

	route := camino.Route{Name: "Camino Navarro", IndexURL: srv.URL + "/navarro"}
	locs, err := testDiscoverer(t, srv.URL).Discover(context.Background(), route)
	require.NoError(t, err)

	var urls []string
	for _, loc := range locs {
		urls = append(urls, loc.PageURL)
	}
	require.Equal(t, []string{
		srv.URL + "/item/albergue-colegiata",
		srv.URL + "/item/iglesia-santiago",
		srv.URL + "/item/bar-valentin",
	}, urls, "page order preserved, duplicates within and across towns dropped")

	require.Equal(t, "Roncesvalles", locs[0].Town.Name)
	require.Equal(t, "Camino Navarro", locs[0].Town.Route.Name)
	require.Equal(t, "Albergue de la Colegiata", locs[0].PlaceName)
	require.Equal(t, "Zubiri", locs[2].Town.Name)
}

func TestDiscoverIsIdempotent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/route", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/category/uno">Uno</a>
			<a href="/category/dos">Dos</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/uno", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/item/a">A</a><a href="/item/b">B</a></body></html>`)
	})
	mux.HandleFunc("/category/dos", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/item/c">C</a></body></html>`)
	})

	d := testDiscoverer(t, srv.URL)
	route := camino.Route{Name: "Camino", IndexURL: srv.URL + "/route"}

	first, err := d.Discover(context.Background(), route)
	require.NoError(t, err)
	second, err := d.Discover(context.Background(), route)
	require.NoError(t, err)
	require.Equal(t, first, second, "same pages yield the same locations in the same order")
}

func TestDiscoverNoTownsIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/about">nothing here</a></body></html>`)
	}))
	defer srv.Close()

	route := camino.Route{Name: "Camino Vacío", IndexURL: srv.URL + "/empty"}
	_, err := testDiscoverer(t, srv.URL).Discover(context.Background(), route)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no town links")
}

func TestDiscoverSkipsFailingTown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/route", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/category/broken">Broken</a>
			<a href="/category/fine">Fine</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/category/fine", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/item/only-one">Only One</a></body></html>`)
	})

	route := camino.Route{Name: "Camino Parcial", IndexURL: srv.URL + "/route"}
	locs, err := testDiscoverer(t, srv.URL).Discover(context.Background(), route)
	require.NoError(t, err, "a failing town must not fail the route")
	require.Len(t, locs, 1)
	require.Equal(t, "Fine", locs[0].Town.Name)
}

func TestDiscoverSkipsEmptyTown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/route", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/category/empty">Empty</a>
			<a href="/category/full">Full</a>
		</body></html>`)
	})
	mux.HandleFunc("/category/empty", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>no locations</body></html>`)
	})
	mux.HandleFunc("/category/full", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/item/casa">Casa</a></body></html>`)
	})

	route := camino.Route{Name: "Camino", IndexURL: srv.URL + "/route"}
	locs, err := testDiscoverer(t, srv.URL).Discover(context.Background(), route)
	require.NoError(t, err)
	require.Len(t, locs, 1)
}

func TestTownNameFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rawURL string
		want   string
	}{
		{"https://stamps.test/category/cizur-menor", "Cizur Menor"},
		{"https://stamps.test/es/category/puente-la-reina", "Puente La Reina"},
		{"https://stamps.test/camino-navarro/category/larrasoana/", "Larrasoana"},
		{"https://stamps.test/category-navarro/villava", "Villava"},
		{"https://stamps.test/something-else", "Something Else"},
		{"https://stamps.test/", "Unknown Town"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, townNameFromURL(tc.rawURL), tc.rawURL)
	}
}
