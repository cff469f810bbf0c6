package ellipsoid_coordinate_converter

import (
	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
)

// Closed form WGS84 conversions, no external state
type ellipsoidCoordinateConverter struct{}

func NewEllipsoidCoordinateConverter() converters.CoordinateConverter {
	return &ellipsoidCoordinateConverter{}
}

func (c *ellipsoidCoordinateConverter) GeodeticToECEF(lat, lng, height float64) (mgl64.Vec3, error) {
	return geometry.ToECEF(lat, lng, height), nil
}

func (c *ellipsoidCoordinateConverter) ECEFToGeodetic(point mgl64.Vec3) (geometry.Geodetic, error) {
	return geometry.FromECEF(point), nil
}

func (c *ellipsoidCoordinateConverter) Cleanup() {}
