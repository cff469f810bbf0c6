package converters_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters/coordinate/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/elevation/google_elevation_provider"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/elevation/offset_elevation_provider"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEllipsoidConverterRoundTrip(t *testing.T) {
	converter := ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter()
	defer converter.Cleanup()

	p, err := converter.GeodeticToECEF(45.5, 9.2, 120)
	require.NoError(t, err)

	g, err := converter.ECEFToGeodetic(p)
	require.NoError(t, err)
	assert.InDelta(t, 45.5, g.Lat, 1e-9)
	assert.InDelta(t, 9.2, g.Lng, 1e-9)
	assert.InDelta(t, 120, g.Height, 1e-4)
}

func TestOffsetElevationProvider(t *testing.T) {
	p := offset_elevation_provider.NewOffsetElevationProvider(12.5)
	e, err := p.Elevation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 12.5, e)
}

func TestGoogleElevationProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "K" {
			_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key","results":[]}`))
			return
		}
		assert.Equal(t, "37.5,-122.25", r.URL.Query().Get("locations"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"elevation":42.75}]}`))
	}))
	defer server.Close()

	client := fetch.NewHTTPClient(5*time.Second, 2, "test")

	p := google_elevation_provider.NewGoogleElevationProvider(client, server.URL, "K")
	e, err := p.Elevation(context.Background(), 37.5, -122.25)
	require.NoError(t, err)
	assert.Equal(t, 42.75, e)

	denied := google_elevation_provider.NewGoogleElevationProvider(client, server.URL, "WRONG")
	_, err = denied.Elevation(context.Background(), 37.5, -122.25)
	assert.ErrorContains(t, err, "REQUEST_DENIED")
}
