package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WGS84 reference ellipsoid
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1.0 / 298.257223563
)

var (
	semiMinorAxis         = SemiMajorAxis * (1 - Flattening)
	firstEccentricitySq   = Flattening * (2 - Flattening)
	secondEccentricitySq  = firstEccentricitySq / (1 - firstEccentricitySq)
	geodeticMaxIterations = 8
)

// Geodetic position in degrees and meters above the ellipsoid
type Geodetic struct {
	Lat    float64
	Lng    float64
	Height float64
}

// ToECEF converts a geodetic position to an Earth-Centered, Earth-Fixed point in meters.
func ToECEF(lat, lng, heightMeters float64) mgl64.Vec3 {
	phi := mgl64.DegToRad(lat)
	lambda := mgl64.DegToRad(lng)

	sinPhi, cosPhi := math.Sincos(phi)
	sinLambda, cosLambda := math.Sincos(lambda)

	n := primeVerticalRadius(sinPhi)

	return mgl64.Vec3{
		(n + heightMeters) * cosPhi * cosLambda,
		(n + heightMeters) * cosPhi * sinLambda,
		(n*(1-firstEccentricitySq) + heightMeters) * sinPhi,
	}
}

// FromECEF converts an ECEF point back to geodetic coordinates using Bowring's
// parametric latitude followed by a few fixed point refinements.
func FromECEF(p mgl64.Vec3) Geodetic {
	x, y, z := p[0], p[1], p[2]
	lng := math.Atan2(y, x)
	r := math.Hypot(x, y)

	if r < 1e-9 {
		// on the polar axis longitude is undefined, keep 0
		lat := math.Copysign(math.Pi/2, z)
		if z == 0 {
			return Geodetic{Lat: 0, Lng: 0, Height: -SemiMajorAxis}
		}
		return Geodetic{Lat: mgl64.RadToDeg(lat), Lng: 0, Height: math.Abs(z) - semiMinorAxis}
	}

	beta := math.Atan2(z*SemiMajorAxis, r*semiMinorAxis)
	sinBeta, cosBeta := math.Sincos(beta)
	phi := math.Atan2(
		z+secondEccentricitySq*semiMinorAxis*sinBeta*sinBeta*sinBeta,
		r-firstEccentricitySq*SemiMajorAxis*cosBeta*cosBeta*cosBeta,
	)

	for i := 0; i < geodeticMaxIterations; i++ {
		sinBeta, cosBeta = math.Sincos(math.Atan((1 - Flattening) * math.Tan(phi)))
		next := math.Atan2(
			z+secondEccentricitySq*semiMinorAxis*sinBeta*sinBeta*sinBeta,
			r-firstEccentricitySq*SemiMajorAxis*cosBeta*cosBeta*cosBeta,
		)
		if math.Abs(next-phi) < 1e-14 {
			phi = next
			break
		}
		phi = next
	}

	sinPhi, cosPhi := math.Sincos(phi)
	n := primeVerticalRadius(sinPhi)

	var h float64
	if math.Abs(cosPhi) > 1e-10 {
		h = r/cosPhi - n
	} else {
		h = math.Abs(z) - semiMinorAxis
	}

	return Geodetic{
		Lat:    mgl64.RadToDeg(phi),
		Lng:    mgl64.RadToDeg(lng),
		Height: h,
	}
}

// UpVector returns the unit ellipsoid normal at the given latitude and longitude.
func UpVector(lat, lng float64) mgl64.Vec3 {
	sinPhi, cosPhi := math.Sincos(mgl64.DegToRad(lat))
	sinLambda, cosLambda := math.Sincos(mgl64.DegToRad(lng))
	return mgl64.Vec3{cosPhi * cosLambda, cosPhi * sinLambda, sinPhi}
}

func primeVerticalRadius(sinPhi float64) float64 {
	return SemiMajorAxis / math.Sqrt(1-firstEccentricitySq*sinPhi*sinPhi)
}
