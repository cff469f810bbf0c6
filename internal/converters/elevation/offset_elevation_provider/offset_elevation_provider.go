package offset_elevation_provider

import (
	"context"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
)

// Reports a constant elevation, used when no elevation lookup is configured
type OffsetElevationProvider struct {
	Offset float64
}

func NewOffsetElevationProvider(offset float64) converters.ElevationProvider {
	return &OffsetElevationProvider{
		Offset: offset,
	}
}

func (p *OffsetElevationProvider) Elevation(_ context.Context, _, _ float64) (float64, error) {
	return p.Offset, nil
}
