package pkg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/ecopia-map/cesium_tile_baker/internal/io"
	"github.com/ecopia-map/cesium_tile_baker/internal/manifest"
	"github.com/ecopia-map/cesium_tile_baker/internal/observability"
	"github.com/ecopia-map/cesium_tile_baker/internal/origin"
	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/ecopia-map/cesium_tile_baker/tools"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrTilesFailed is returned when a run completed but some tiles or tileset branches could not be processed.
// The manifest lists them.
var ErrTilesFailed = errors.New("some tiles failed")

// runs the producer and numConsumers consumers until the producer closes the work channel, recording
// every failure in builder. newConsumer is called once per consumer.
func runPipeline(
	ctx context.Context,
	producer io.Producer,
	newConsumer func() *io.StandardConsumer,
	numConsumers int,
	builder *manifest.Builder,
) {
	if numConsumers < 1 {
		numConsumers = runtime.NumCPU()
	}

	// init channel where to submit work with a buffer 5 times greater than the number of consumer
	workChannel := make(chan *io.WorkUnit, numConsumers*5)

	// drained concurrently, senders never block on it
	errorChannel := make(chan error)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for err := range errorChannel {
			glog.Warningln(err)
			builder.AddFailure(io.FailureSource(err), io.FailureKind(err), err)
		}
	}()

	var waitGroup sync.WaitGroup

	// add producer to waitgroup and launch producer goroutine
	waitGroup.Add(1)
	go producer.Produce(ctx, workChannel, errorChannel, &waitGroup)

	// add consumers to waitgroup and launch them
	for i := 0; i < numConsumers; i++ {
		waitGroup.Add(1)
		go newConsumer().Consume(ctx, workChannel, errorChannel, &waitGroup)
	}

	// wait for producers and consumers to finish
	waitGroup.Wait()

	close(errorChannel)
	<-drained
}

// originCell picks the origin every tile of the run is placed against: the explicit option,
// otherwise the origin recorded by a previous run in the same folder, otherwise the first baked tile.
func originCell(opts *tiler.TilerOptions, previous *manifest.Manifest) *origin.Cell {
	if opts.Origin != nil {
		glog.Infof("using explicit origin %v", *opts.Origin)
		return origin.NewFixedCell(*opts.Origin)
	}
	if previous != nil && previous.Origin != nil {
		value := previous.Origin.ECEF()
		glog.Infof("reusing origin %v of run %s", value, previous.RunID)
		return origin.NewFixedCell(value)
	}
	return origin.NewCell()
}

func loadPreviousManifest(output string) *manifest.Manifest {
	previous, err := manifest.Load(output)
	if err != nil {
		glog.Warningf("ignoring previous manifest in %s: %v", output, err)
		return nil
	}
	return previous
}

// writes the manifest and turns recorded failures into ErrTilesFailed
func finishRun(
	opts *tiler.TilerOptions,
	builder *manifest.Builder,
	cell *origin.Cell,
	converter converters.CoordinateConverter,
) error {
	var manifestOrigin *manifest.Origin
	if value, ok := cell.Get(); ok {
		manifestOrigin = manifest.NewOrigin(value, geodeticOf(converter, value))
	}

	m := builder.Build(manifestOrigin)
	path, err := manifest.Write(opts.Output, opts.ManifestFormat, m)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	tools.LogOutput(fmt.Sprintf("> run %s: %d written, %d skipped, %d failed, manifest %s",
		m.RunID, len(m.Written), len(m.Skipped), len(m.Failures), path))

	if len(m.Failures) > 0 {
		return fmt.Errorf("%w: %d failures, see %s", ErrTilesFailed, len(m.Failures), path)
	}
	return nil
}

func geodeticOf(converter converters.CoordinateConverter, point mgl64.Vec3) geometry.Geodetic {
	geodetic, err := converter.ECEFToGeodetic(point)
	if err != nil {
		glog.Warningf("converter failed on %v, falling back to the closed form: %v", point, err)
		return geometry.FromECEF(point)
	}
	return geodetic
}

func newRunCollector() (*observability.RunCollector, error) {
	collector, err := observability.NewRunCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("registering run metrics: %w", err)
	}
	return collector, nil
}

// serveMetrics exposes the collector on addr until the returned stop function is called.
// An empty addr disables the endpoint.
func serveMetrics(addr string, collector *observability.RunCollector) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Warningf("metrics server: %v", err)
		}
	}()
	glog.Infof("serving metrics on http://%s/metrics", listener.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
