package std_algorithm_manager

import (
	"fmt"

	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/coordinate/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/coordinate/proj4_coordinate_converter"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/elevation/google_elevation_provider"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters/elevation/offset_elevation_provider"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/ecopia-map/cesium_tile_baker/pkg/algorithm_manager"
)

type StandardAlgorithmManager struct {
	options             *tiler.TilerOptions
	coordinateConverter converters.CoordinateConverter
	elevationProvider   converters.ElevationProvider
	meshDecompressor    codec.MeshDecompressor
}

// client is used by providers that query remote services
func NewAlgorithmManager(opts *tiler.TilerOptions, client fetch.Client) (algorithm_manager.AlgorithmManager, error) {
	coordinateConverter, err := evaluateCoordinateConverterAlgorithm(opts)
	if err != nil {
		return nil, err
	}
	elevationProvider, err := evaluateElevationProviderAlgorithm(opts, client)
	if err != nil {
		coordinateConverter.Cleanup()
		return nil, err
	}

	return &StandardAlgorithmManager{
		options:             opts,
		coordinateConverter: coordinateConverter,
		elevationProvider:   elevationProvider,
		meshDecompressor:    codec.NewDracoDecompressor(),
	}, nil
}

func (m *StandardAlgorithmManager) GetElevationProviderAlgorithm() converters.ElevationProvider {
	return m.elevationProvider
}

func (m *StandardAlgorithmManager) GetCoordinateConverterAlgorithm() converters.CoordinateConverter {
	return m.coordinateConverter
}

func (m *StandardAlgorithmManager) GetMeshDecompressorAlgorithm() codec.MeshDecompressor {
	return m.meshDecompressor
}

func evaluateCoordinateConverterAlgorithm(opts *tiler.TilerOptions) (converters.CoordinateConverter, error) {
	switch opts.Converter {
	case tiler.ConverterEllipsoid, "":
		return ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter(), nil
	case tiler.ConverterProj4:
		return proj4_coordinate_converter.NewProj4CoordinateConverter()
	}
	return nil, fmt.Errorf("unrecognized coordinate converter %q", opts.Converter)
}

func evaluateElevationProviderAlgorithm(opts *tiler.TilerOptions, client fetch.Client) (converters.ElevationProvider, error) {
	fetchOpts := opts.TilerFetchOptions
	if fetchOpts == nil {
		return offset_elevation_provider.NewOffsetElevationProvider(0), nil
	}

	switch fetchOpts.Elevation {
	case tiler.ElevationNone, "":
		return offset_elevation_provider.NewOffsetElevationProvider(fetchOpts.ElevationOffset), nil
	case tiler.ElevationGoogle:
		if client == nil {
			return nil, fmt.Errorf("elevation source %s needs an http client", fetchOpts.Elevation)
		}
		return google_elevation_provider.NewGoogleElevationProvider(client, "", fetchOpts.APIKey), nil
	}
	return nil, fmt.Errorf("unrecognized elevation source %q", fetchOpts.Elevation)
}
