package io

import (
	"context"
	"sync"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/ecopia-map/cesium_tile_baker/internal/tileset"
	"github.com/golang/glog"
)

type StandardProducer struct {
	walker  *tileset.Walker
	rootURL string
	region  geometry.Sphere
}

func NewStandardProducer(walker *tileset.Walker, rootURL string, region geometry.Sphere) *StandardProducer {
	return &StandardProducer{
		walker:  walker,
		rootURL: rootURL,
		region:  region,
	}
}

// Walks the remote tileset and submits a WorkUnit per surviving asset.
// Closes the channel when the traversal is over.
func (p *StandardProducer) Produce(ctx context.Context, work chan *WorkUnit, errchan chan error, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(work)

	emit := func(ref fetch.ContentRef) {
		select {
		case work <- &WorkUnit{Ref: &ref}:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		errchan <- err
	}

	if err := p.walker.Traverse(ctx, p.rootURL, p.region, emit, fail); err != nil {
		glog.Warningf("traversal of %s stopped: %v", p.rootURL, err)
		errchan <- err
	}
}

type FileProducer struct {
	root  string
	files []string
}

// root is the folder output names are made relative to
func NewFileProducer(root string, files []string) *FileProducer {
	return &FileProducer{root: root, files: files}
}

// Submits a WorkUnit per local glb file. Closes the channel when all work is submitted.
func (p *FileProducer) Produce(ctx context.Context, work chan *WorkUnit, _ chan error, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(work)

	for _, path := range p.files {
		select {
		case work <- &WorkUnit{Path: path, Root: p.root}:
		case <-ctx.Done():
			return
		}
	}
}
