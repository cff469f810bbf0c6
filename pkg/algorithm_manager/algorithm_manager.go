package algorithm_manager

import (
	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
)

type AlgorithmManager interface {
	GetElevationProviderAlgorithm() converters.ElevationProvider
	GetCoordinateConverterAlgorithm() converters.CoordinateConverter
	GetMeshDecompressorAlgorithm() codec.MeshDecompressor
}
