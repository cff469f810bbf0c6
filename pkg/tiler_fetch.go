package pkg

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/ecopia-map/cesium_tile_baker/internal/io"
	"github.com/ecopia-map/cesium_tile_baker/internal/manifest"
	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/ecopia-map/cesium_tile_baker/internal/tileset"
	"github.com/ecopia-map/cesium_tile_baker/pkg/algorithm_manager"
	"github.com/ecopia-map/cesium_tile_baker/tools"
	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"
)

type TilerFetch struct {
	client           fetch.Client
	algorithmManager algorithm_manager.AlgorithmManager
}

func NewTilerFetch(client fetch.Client, algorithmManager algorithm_manager.AlgorithmManager) tiler.ITiler {
	return &TilerFetch{
		client:           client,
		algorithmManager: algorithmManager,
	}
}

// Downloads every tile of the remote tileset whose bounds meet the region and bakes it against a shared origin
func (tilerFetch *TilerFetch) RunTiler(ctx context.Context, opts *tiler.TilerOptions) error {
	fetchOpts := opts.TilerFetchOptions
	if fetchOpts == nil {
		return errors.New("fetch options missing")
	}
	if err := tools.CreateDirectoryIfDoesNotExist(opts.Output); err != nil {
		return err
	}

	converter := tilerFetch.algorithmManager.GetCoordinateConverterAlgorithm()
	defer converter.Cleanup()

	region, err := tilerFetch.regionSphere(ctx, fetchOpts)
	if err != nil {
		return err
	}
	tools.LogOutput(fmt.Sprintf("> region center (%.6f, %.6f) radius %.1fm", fetchOpts.Lat, fetchOpts.Lng, fetchOpts.Radius))

	previous := loadPreviousManifest(opts.Output)
	cell := originCell(opts, previous)

	collector, err := newRunCollector()
	if err != nil {
		return err
	}
	stopMetrics, err := serveMetrics(opts.MetricsAddr, collector)
	if err != nil {
		return err
	}
	defer stopMetrics()

	concurrency := fetchOpts.Concurrency
	if concurrency < 1 {
		concurrency = tiler.DefaultConcurrency
	}
	rootURL := fetchOpts.RootURL
	if rootURL == "" {
		rootURL = tiler.DefaultRootURL
	}

	store := fetch.NewDiskStore(opts.Output)
	// descriptor and asset requests draw from one budget
	limiter := semaphore.NewWeighted(int64(concurrency))
	materializer := fetch.NewMaterializerWithLimiter(tilerFetch.client, store, limiter, collector.InFlight)
	walker := tileset.NewWalkerWithLimiter(tilerFetch.client, fetchOpts.APIKey, limiter, collector)
	baker := codec.NewBaker(converter, tilerFetch.algorithmManager.GetMeshDecompressorAlgorithm())
	builder := manifest.NewBuilder(&manifest.Region{
		Lat:    fetchOpts.Lat,
		Lng:    fetchOpts.Lng,
		Radius: fetchOpts.Radius,
	}, previous)

	glog.Infof("run %s: walking %s", builder.RunID(), rootURL)
	producer := io.NewStandardProducer(walker, rootURL, region)

	// at least one consumer per retrieval slot
	numConsumers := max(runtime.NumCPU(), concurrency)
	runPipeline(ctx, producer, func() *io.StandardConsumer {
		return io.NewStandardConsumer(materializer, store, baker, cell, builder, collector)
	}, numConsumers, builder)

	return finishRun(opts, builder, cell, converter)
}

// regionSphere places the region center on the ground. Elevation lookup failures fall back to height 0.
func (tilerFetch *TilerFetch) regionSphere(ctx context.Context, fetchOpts *tiler.TilerFetchOptions) (geometry.Sphere, error) {
	elevation, err := tilerFetch.algorithmManager.GetElevationProviderAlgorithm().Elevation(ctx, fetchOpts.Lat, fetchOpts.Lng)
	if err != nil {
		glog.Warningf("elevation lookup failed, using 0: %v", err)
		elevation = 0
	}

	center, err := tilerFetch.algorithmManager.GetCoordinateConverterAlgorithm().GeodeticToECEF(fetchOpts.Lat, fetchOpts.Lng, elevation)
	if err != nil {
		return geometry.Sphere{}, fmt.Errorf("region center: %w", err)
	}
	return geometry.Sphere{Center: center, Radius: fetchOpts.Radius}, nil
}
