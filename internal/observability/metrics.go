package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tile_baker"

// RunCollector bundles the Prometheus metrics of a download and bake run.
// It satisfies tileset.Observer, and InFlight satisfies fetch.InFlightTracker.
type RunCollector struct {
	gatherer prometheus.Gatherer

	Descriptors   *prometheus.CounterVec
	NodesPruned   prometheus.Counter
	Tiles         *prometheus.CounterVec
	TileFailures  *prometheus.CounterVec
	BakeDurations prometheus.Histogram
	InFlight      prometheus.Gauge
}

// NewRunCollector registers run metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	descriptors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "descriptors_total",
		Help:      "Tileset descriptors processed, labeled by result (fetched, failed).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	pruned, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nodes_pruned_total",
		Help:      "Tileset subtrees skipped because they miss the region.",
	}))
	if err != nil {
		return nil, err
	}
	tiles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tiles_total",
		Help:      "Tiles processed, labeled by result (written, skipped, failed).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tile_failures_total",
		Help:      "Tile failures, labeled by error kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bake_duration_seconds",
		Help:      "Time spent decoding, baking and encoding one tile.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}))
	if err != nil {
		return nil, err
	}
	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetches_in_flight",
		Help:      "Asset retrievals currently in flight.",
	}))
	if err != nil {
		return nil, err
	}

	return &RunCollector{
		gatherer:      gatherer,
		Descriptors:   descriptors,
		NodesPruned:   pruned,
		Tiles:         tiles,
		TileFailures:  failures,
		BakeDurations: durations,
		InFlight:      inFlight,
	}, nil
}

func (c *RunCollector) DescriptorFetched() {
	c.Descriptors.WithLabelValues("fetched").Inc()
}

func (c *RunCollector) DescriptorFailed() {
	c.Descriptors.WithLabelValues("failed").Inc()
}

func (c *RunCollector) NodePruned() {
	c.NodesPruned.Inc()
}

func (c *RunCollector) TileWritten(bakeDuration time.Duration) {
	c.Tiles.WithLabelValues("written").Inc()
	c.BakeDurations.Observe(bakeDuration.Seconds())
}

func (c *RunCollector) TileSkipped() {
	c.Tiles.WithLabelValues("skipped").Inc()
}

func (c *RunCollector) TileFailed(kind string) {
	c.Tiles.WithLabelValues("failed").Inc()
	c.TileFailures.WithLabelValues(kind).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RunCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds collector to reg, returning the existing collector when an identical one is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
