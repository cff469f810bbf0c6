package tiler

import (
	"strings"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/manifest"
	"github.com/go-gl/mathgl/mgl64"
)

type Converter string
type ElevationSource string

const (
	// Closed form WGS84 conversion, no external library
	ConverterEllipsoid Converter = "ELLIPSOID"

	// EPSG:4326 to EPSG:4978 through proj4
	ConverterProj4 Converter = "PROJ4"
)

const (
	// Constant elevation given by ElevationOffset, 0 by default
	ElevationNone ElevationSource = "NONE"

	// Google Elevation API, authenticated with the same api key
	ElevationGoogle ElevationSource = "GOOGLE"
)

const (
	DefaultRootURL     = "https://tile.googleapis.com/v1/3dtiles/root.json"
	DefaultConcurrency = 16
	DefaultTimeout     = 60 * time.Second
	DefaultUserAgent   = "cesium-tile-baker"
)

func (c Converter) String() string {
	return string(c)
}

func ParseConverter(value string) Converter {
	normalizedValue := strings.Trim(strings.ToUpper(value), " ")
	if normalizedValue == "ELLIPSOID" {
		return ConverterEllipsoid
	} else if normalizedValue == "PROJ4" {
		return ConverterProj4
	}
	return ""
}

func ParseElevationSource(value string) ElevationSource {
	normalizedValue := strings.Trim(strings.ToUpper(value), " ")
	if normalizedValue == "NONE" || normalizedValue == "" {
		return ElevationNone
	} else if normalizedValue == "GOOGLE" {
		return ElevationGoogle
	}
	return ""
}

// Contains the options needed to download and bake tiles
type TilerOptions struct {
	Output         string          // Output folder for baked tiles and the manifest
	Origin         *mgl64.Vec3     // Explicit ECEF origin, overrides the first-tile rule
	Converter      Converter       // Geodetic <-> ECEF implementation
	ManifestFormat manifest.Format // Format of the manifest file
	MetricsAddr    string          // Address of the Prometheus endpoint, disabled when empty

	Command           string
	TilerFetchOptions *TilerFetchOptions
	TilerBakeOptions  *TilerBakeOptions
}

type TilerFetchOptions struct {
	APIKey          string
	RootURL         string          // Root tileset descriptor
	Lat             float64         // Region center latitude in degrees
	Lng             float64         // Region center longitude in degrees
	Radius          float64         // Region radius in meters
	Concurrency     int             // Max retrievals in flight
	Timeout         time.Duration   // Per request timeout
	Elevation       ElevationSource // Source of the region center elevation
	ElevationOffset float64         // Elevation used with ElevationNone, in meters
}

type TilerBakeOptions struct {
	Input            string // Input glb file/folder
	FolderProcessing bool   // Enables the processing of all glb files in folder
	Recursive        bool   // Recursive lookup of glb files in subfolders
}

func (opt *TilerOptions) Copy() *TilerOptions {
	newOpt := *opt

	if opt.Origin != nil {
		origin := *opt.Origin
		newOpt.Origin = &origin
	}

	if opt.TilerFetchOptions != nil {
		fetchOpt := *opt.TilerFetchOptions
		newOpt.TilerFetchOptions = &fetchOpt
	}

	if opt.TilerBakeOptions != nil {
		bakeOpt := *opt.TilerBakeOptions
		newOpt.TilerBakeOptions = &bakeOpt
	}

	return &newOpt
}
