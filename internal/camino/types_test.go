package camino

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStampLocationKey(t *testing.T) {
	t.Parallel()

	loc := StampLocation{
		Town: Town{
			Route: Route{Name: "Camino Navarro"},
			Name:  "Roncesvalles",
		},
		PageURL: "https://stamps.test/item/albergue",
	}
	require.Equal(t, "Camino Navarro|Roncesvalles|https://stamps.test/item/albergue", loc.Key())

	other := loc
	other.Town.Name = "Zubiri"
	require.NotEqual(t, loc.Key(), other.Key())
}

func TestRunReportTotalLocations(t *testing.T) {
	t.Parallel()

	r := RunReport{Routes: []RouteReport{
		{Route: "a", Locations: 3},
		{Route: "b", Locations: 5},
	}}
	require.Equal(t, 8, r.TotalLocations())
	require.Equal(t, 0, RunReport{}.TotalLocations())
}

func TestRouteReportOmitsEmptyFatal(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(RouteReport{Route: "fine"})
	require.NoError(t, err)
	require.NotContains(t, string(data), "fatal")

	data, err = json.Marshal(RouteReport{Route: "broken", Fatal: "no town links"})
	require.NoError(t, err)
	require.Contains(t, string(data), `"fatal":"no town links"`)
}
