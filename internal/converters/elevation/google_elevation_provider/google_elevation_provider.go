package google_elevation_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
)

const DefaultEndpoint = "https://maps.googleapis.com/maps/api/elevation/json"

type elevationResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

// Looks up ground elevation with the Google Elevation API
type GoogleElevationProvider struct {
	client   fetch.Client
	endpoint string
	apiKey   string
}

func NewGoogleElevationProvider(client fetch.Client, endpoint string, apiKey string) converters.ElevationProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &GoogleElevationProvider{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (p *GoogleElevationProvider) Elevation(ctx context.Context, lat, lng float64) (float64, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return 0, fmt.Errorf("elevation endpoint: %w", err)
	}
	q := u.Query()
	q.Set("locations", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set(fetch.KeyParam, p.apiKey)
	u.RawQuery = q.Encode()

	resp, err := p.client.Get(ctx, u.String())
	if err != nil {
		return 0, err
	}

	var body elevationResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, fmt.Errorf("decode elevation response: %w", err)
	}
	if body.Status != "OK" {
		return 0, fmt.Errorf("elevation lookup status %s: %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return 0, fmt.Errorf("elevation lookup returned no results")
	}
	return body.Results[0].Elevation, nil
}
