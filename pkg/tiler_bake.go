package pkg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/io"
	"github.com/ecopia-map/cesium_tile_baker/internal/manifest"
	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/ecopia-map/cesium_tile_baker/pkg/algorithm_manager"
	"github.com/ecopia-map/cesium_tile_baker/tools"
	"github.com/golang/glog"
)

type TilerBake struct {
	fileFinder       tools.FileFinder
	algorithmManager algorithm_manager.AlgorithmManager
}

func NewTilerBake(fileFinder tools.FileFinder, algorithmManager algorithm_manager.AlgorithmManager) tiler.ITiler {
	return &TilerBake{
		fileFinder:       fileFinder,
		algorithmManager: algorithmManager,
	}
}

// Bakes glb files already on disk, e.g. tiles downloaded by another tool, against a shared origin
func (tilerBake *TilerBake) RunTiler(ctx context.Context, opts *tiler.TilerOptions) error {
	bakeOpts := opts.TilerBakeOptions
	if bakeOpts == nil {
		return errors.New("bake options missing")
	}

	glog.Infoln("Preparing list of files to process...")
	glbFiles, err := tilerBake.fileFinder.GetGlbFilesToProcess(bakeOpts.Input, bakeOpts.FolderProcessing, bakeOpts.Recursive)
	if err != nil {
		return err
	}
	for i, filePath := range glbFiles {
		glog.Infof("glb_file path %d [%s]", i+1, filePath)
	}
	tools.LogOutput(fmt.Sprintf("> %d glb files to process", len(glbFiles)))

	if err := tools.CreateDirectoryIfDoesNotExist(opts.Output); err != nil {
		return err
	}

	converter := tilerBake.algorithmManager.GetCoordinateConverterAlgorithm()
	defer converter.Cleanup()

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

	store := fetch.NewDiskStore(opts.Output)
	baker := codec.NewBaker(converter, tilerBake.algorithmManager.GetMeshDecompressorAlgorithm())
	builder := manifest.NewBuilder(nil, previous)

	root := bakeOpts.Input
	if !bakeOpts.FolderProcessing {
		root = filepath.Dir(bakeOpts.Input)
	}
	runPipeline(ctx, io.NewFileProducer(root, glbFiles), func() *io.StandardConsumer {
		return io.NewStandardConsumer(nil, store, baker, cell, builder, collector)
	}, runtime.NumCPU(), builder)

	return finishRun(opts, builder, cell, converter)
}
