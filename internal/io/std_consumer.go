package io

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/origin"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/glog"
)

// Receives the outcome of every successful work unit. manifest.Builder satisfies it.
type Reporter interface {
	AddWritten(filename, source string, translation mgl64.Vec3, copyright string)
	AddSkipped(filename, source string)
}

// Receives per tile events. observability.RunCollector satisfies it.
type TileObserver interface {
	TileWritten(bakeDuration time.Duration)
	TileSkipped()
	TileFailed(kind string)
}

type noopTileObserver struct{}

func (noopTileObserver) TileWritten(time.Duration) {}
func (noopTileObserver) TileSkipped()              {}
func (noopTileObserver) TileFailed(string)         {}

type StandardConsumer struct {
	materializer *fetch.Materializer
	store        fetch.Store
	baker        *codec.Baker
	origin       *origin.Cell
	reporter     Reporter
	observer     TileObserver
}

// materializer may be nil when every work unit points at a local file
func NewStandardConsumer(
	materializer *fetch.Materializer,
	store fetch.Store,
	baker *codec.Baker,
	origin *origin.Cell,
	reporter Reporter,
	observer TileObserver,
) *StandardConsumer {
	if observer == nil {
		observer = noopTileObserver{}
	}
	return &StandardConsumer{
		materializer: materializer,
		store:        store,
		baker:        baker,
		origin:       origin,
		reporter:     reporter,
		observer:     observer,
	}
}

// Continually consumes WorkUnits submitted to a work channel producing the corresponding baked tiles.
// Continues working until the work channel is closed; a failed unit is submitted to the error channel
// and does not stop the consumer.
func (c *StandardConsumer) Consume(ctx context.Context, workchan chan *WorkUnit, errchan chan error, waitGroup *sync.WaitGroup) {
	defer waitGroup.Done()

	for work := range workchan {
		if err := c.doWork(ctx, work); err != nil {
			c.observer.TileFailed(FailureKind(err))
			errchan <- &TileError{Source: work.Source(), Err: err}
		}
	}
}

// Takes a workunit, obtains its bytes, bakes them against the shared origin and writes the result
func (c *StandardConsumer) doWork(ctx context.Context, workUnit *WorkUnit) error {
	filename := workUnit.Filename()
	raw, skipped, err := c.load(ctx, workUnit, filename)
	if err != nil {
		return err
	}
	if skipped {
		c.reporter.AddSkipped(filename, workUnit.Source())
		c.observer.TileSkipped()
		return nil
	}

	start := time.Now()
	result, err := c.bake(raw)
	if err != nil {
		var bakeErr *codec.BakeError
		if errors.As(err, &bakeErr) {
			bakeErr.Tile = filename
		}
		return err
	}
	elapsed := time.Since(start)

	if err := c.store.Write(filename, result.Data); err != nil {
		return &writeError{err: err}
	}

	c.reporter.AddWritten(filename, workUnit.Source(), result.Translation, result.Copyright)
	c.observer.TileWritten(elapsed)
	return nil
}

// load returns the raw tile bytes, or skipped when the output already exists
func (c *StandardConsumer) load(ctx context.Context, workUnit *WorkUnit, filename string) ([]byte, bool, error) {
	if workUnit.Ref != nil {
		if c.materializer == nil {
			return nil, false, fmt.Errorf("no materializer for remote unit %s", workUnit.Source())
		}
		materialized, err := c.materializer.Materialize(ctx, *workUnit.Ref)
		if err != nil {
			return nil, false, err
		}
		return materialized.Data, materialized.Skipped, nil
	}

	if c.store.Exists(filename) {
		return nil, true, nil
	}
	raw, err := os.ReadFile(workUnit.Path)
	if err != nil {
		return nil, false, err
	}
	return raw, false, nil
}

// bake uses the shared origin when assigned. Otherwise the tile proposes its own reference point;
// if another tile got there first the bake is repeated against the winner.
func (c *StandardConsumer) bake(raw []byte) (*codec.Result, error) {
	current := c.origin.Pointer()
	result, err := c.baker.Bake(raw, current)
	if err != nil || current != nil {
		return result, err
	}

	winner, won := c.origin.TrySet(result.OriginUsed)
	if won {
		glog.Infof("origin set to ECEF (%.4f, %.4f, %.4f)", winner[0], winner[1], winner[2])
		return result, nil
	}
	return c.baker.Bake(raw, &winner)
}
