package converters

import (
	"context"

	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
)

// Converts between WGS84 geodetic coordinates (degrees, meters) and ECEF meters
type CoordinateConverter interface {
	GeodeticToECEF(lat, lng, height float64) (mgl64.Vec3, error)
	ECEFToGeodetic(point mgl64.Vec3) (geometry.Geodetic, error)
	Cleanup()
}

// Returns a ground elevation estimate in meters for the given position
type ElevationProvider interface {
	Elevation(ctx context.Context, lat, lng float64) (float64, error)
}
