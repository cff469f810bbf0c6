package proj4_coordinate_converter

import (
	"fmt"
	"sync"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	proj "github.com/xeonx/proj4"
)

const (
	wgs84GeodeticDefinition = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"
	wgs84ECEFDefinition     = "+proj=geocent +ellps=WGS84 +datum=WGS84 +units=m +no_defs"
)

// Delegates geodetic <-> geocentric conversions (EPSG:4326 <-> EPSG:4978) to proj.4.
// proj.4 projection handles are not safe for concurrent use, so every transform is serialized.
type proj4CoordinateConverter struct {
	geodetic *proj.Proj
	ecef     *proj.Proj
	sync.Mutex
}

func NewProj4CoordinateConverter() (converters.CoordinateConverter, error) {
	geodetic, err := proj.InitPlus(wgs84GeodeticDefinition)
	if err != nil {
		return nil, fmt.Errorf("init geodetic projection: %w", err)
	}
	ecef, err := proj.InitPlus(wgs84ECEFDefinition)
	if err != nil {
		geodetic.Close()
		return nil, fmt.Errorf("init geocentric projection: %w", err)
	}

	return &proj4CoordinateConverter{
		geodetic: geodetic,
		ecef:     ecef,
	}, nil
}

func (c *proj4CoordinateConverter) GeodeticToECEF(lat, lng, height float64) (mgl64.Vec3, error) {
	x := []float64{mgl64.DegToRad(lng)}
	y := []float64{mgl64.DegToRad(lat)}
	z := []float64{height}

	c.Lock()
	defer c.Unlock()

	if err := proj.TransformRaw(c.geodetic, c.ecef, x, y, z); err != nil {
		return mgl64.Vec3{}, fmt.Errorf("proj4 geodetic to ecef (%f, %f, %f): %w", lat, lng, height, err)
	}
	return mgl64.Vec3{x[0], y[0], z[0]}, nil
}

func (c *proj4CoordinateConverter) ECEFToGeodetic(point mgl64.Vec3) (geometry.Geodetic, error) {
	x := []float64{point[0]}
	y := []float64{point[1]}
	z := []float64{point[2]}

	c.Lock()
	defer c.Unlock()

	if err := proj.TransformRaw(c.ecef, c.geodetic, x, y, z); err != nil {
		return geometry.Geodetic{}, fmt.Errorf("proj4 ecef to geodetic %v: %w", point, err)
	}
	return geometry.Geodetic{
		Lat:    mgl64.RadToDeg(y[0]),
		Lng:    mgl64.RadToDeg(x[0]),
		Height: z[0],
	}, nil
}

// Releases the proj.4 handles
func (c *proj4CoordinateConverter) Cleanup() {
	c.Lock()
	defer c.Unlock()

	if c.geodetic != nil {
		c.geodetic.Close()
		c.geodetic = nil
	}
	if c.ecef != nil {
		c.ecef.Close()
		c.ecef = nil
	}
}
