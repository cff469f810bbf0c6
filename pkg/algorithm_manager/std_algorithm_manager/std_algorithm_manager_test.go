package std_algorithm_manager

import (
	"context"
	"testing"

	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlgorithmManagerDefaults(t *testing.T) {
	manager, err := NewAlgorithmManager(&tiler.TilerOptions{
		TilerFetchOptions: &tiler.TilerFetchOptions{ElevationOffset: 12.5},
	}, nil)
	require.NoError(t, err)

	p, err := manager.GetCoordinateConverterAlgorithm().GeodeticToECEF(0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 6378137.0, p[0], 1e-6)

	elevation, err := manager.GetElevationProviderAlgorithm().Elevation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 12.5, elevation)
	assert.NotNil(t, manager.GetMeshDecompressorAlgorithm())
}

func TestNewAlgorithmManagerRejectsUnknownChoices(t *testing.T) {
	_, err := NewAlgorithmManager(&tiler.TilerOptions{Converter: "FOO"}, nil)
	assert.Error(t, err)

	_, err = NewAlgorithmManager(&tiler.TilerOptions{
		TilerFetchOptions: &tiler.TilerFetchOptions{Elevation: tiler.ElevationGoogle},
	}, nil)
	assert.Error(t, err)
}
