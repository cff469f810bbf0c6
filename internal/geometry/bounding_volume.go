package geometry

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Sphere in ECEF meters
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// Oriented box as declared by a tileset bounding volume: a center plus three half-axis vectors
type OrientedBox struct {
	Center   mgl64.Vec3
	HalfAxes [3]mgl64.Vec3
}

// Geographic region in radians and meters: west, south, east, north, min height, max height
type Region struct {
	West, South, East, North float64
	MinHeight, MaxHeight     float64
}

var ErrInvalidBoundingVolume = errors.New("invalid bounding volume")

// NewOrientedBox builds a box from the 12 numbers of a 3D Tiles "box" bounding volume
func NewOrientedBox(values []float64) (OrientedBox, error) {
	if len(values) != 12 {
		return OrientedBox{}, ErrInvalidBoundingVolume
	}
	return OrientedBox{
		Center: mgl64.Vec3{values[0], values[1], values[2]},
		HalfAxes: [3]mgl64.Vec3{
			{values[3], values[4], values[5]},
			{values[6], values[7], values[8]},
			{values[9], values[10], values[11]},
		},
	}, nil
}

// NewSphere builds a sphere from the 4 numbers of a 3D Tiles "sphere" bounding volume
func NewSphere(values []float64) (Sphere, error) {
	if len(values) != 4 || values[3] < 0 {
		return Sphere{}, ErrInvalidBoundingVolume
	}
	return Sphere{Center: mgl64.Vec3{values[0], values[1], values[2]}, Radius: values[3]}, nil
}

// NewRegion builds a region from the 6 numbers of a 3D Tiles "region" bounding volume
func NewRegion(values []float64) (Region, error) {
	if len(values) != 6 {
		return Region{}, ErrInvalidBoundingVolume
	}
	return Region{
		West: values[0], South: values[1], East: values[2], North: values[3],
		MinHeight: values[4], MaxHeight: values[5],
	}, nil
}

// ApproximateBoundingSphere keeps the box center and uses the norm of the stacked
// half-axis vectors as radius. It never under-approximates the box.
func ApproximateBoundingSphere(boxCenter mgl64.Vec3, boxHalfAxes [3]mgl64.Vec3) Sphere {
	var sq float64
	for _, axis := range boxHalfAxes {
		sq += axis.Dot(axis)
	}
	return Sphere{Center: boxCenter, Radius: math.Sqrt(sq)}
}

func (b OrientedBox) BoundingSphere() Sphere {
	return ApproximateBoundingSphere(b.Center, b.HalfAxes)
}

// BoundingSphere samples the region corners and edge midpoints at both heights
func (r Region) BoundingSphere() Sphere {
	lats := []float64{r.South, (r.South + r.North) / 2, r.North}
	lngs := []float64{r.West, (r.West + r.East) / 2, r.East}
	heights := []float64{r.MinHeight, r.MaxHeight}

	points := make([]mgl64.Vec3, 0, len(lats)*len(lngs)*len(heights))
	for _, lat := range lats {
		for _, lng := range lngs {
			for _, h := range heights {
				points = append(points, ToECEF(mgl64.RadToDeg(lat), mgl64.RadToDeg(lng), h))
			}
		}
	}

	var center mgl64.Vec3
	for _, p := range points {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(points)))

	radius := 0.0
	for _, p := range points {
		radius = math.Max(radius, p.Sub(center).Len())
	}
	return Sphere{Center: center, Radius: radius}
}

// SpheresIntersect is true iff the distance between centers does not exceed the sum of radii
func SpheresIntersect(a, b Sphere) bool {
	return a.Center.Sub(b.Center).Len() <= a.Radius+b.Radius
}

