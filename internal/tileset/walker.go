package tileset

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"
)

// BranchError reports a descriptor that could not be fetched or parsed. Only its subtree is lost.
type BranchError struct {
	URL string
	Err error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("tileset branch %s: %v", e.URL, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// Observer receives traversal events, used for metrics
type Observer interface {
	DescriptorFetched()
	DescriptorFailed()
	NodePruned()
}

type noopObserver struct{}

func (noopObserver) DescriptorFetched() {}
func (noopObserver) DescriptorFailed()  {}
func (noopObserver) NodePruned()        {}

// Walker traverses a remote tileset graph, pruning every subtree whose bounding
// sphere misses the region, and yields the binary assets of the surviving leaves.
type Walker struct {
	client   fetch.Client
	apiKey   string
	sem      *semaphore.Weighted
	session  *Session
	observer Observer
}

func NewWalker(client fetch.Client, apiKey string, limit int, observer Observer) *Walker {
	if limit < 1 {
		limit = 1
	}
	return NewWalkerWithLimiter(client, apiKey, semaphore.NewWeighted(int64(limit)), observer)
}

// NewWalkerWithLimiter holds a permit of sem for every descriptor request.
// Sharing sem with a Materializer bounds descriptor and asset requests together.
func NewWalkerWithLimiter(client fetch.Client, apiKey string, sem *semaphore.Weighted, observer Observer) *Walker {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Walker{
		client:   client,
		apiKey:   apiKey,
		sem:      sem,
		session:  &Session{},
		observer: observer,
	}
}

// Session returns the session token observed so far
func (w *Walker) Session() string {
	return w.session.Get()
}

// Traverse walks the graph rooted at rootURL and blocks until every reachable descriptor is processed.
// emit and fail are called concurrently from sibling descriptors; a slow emit only delays the descriptor being walked.
func (w *Walker) Traverse(
	ctx context.Context,
	rootURL string,
	region geometry.Sphere,
	emit func(fetch.ContentRef),
	fail func(error),
) error {
	root, err := url.Parse(rootURL)
	if err != nil {
		return fmt.Errorf("root url: %w", err)
	}

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go w.visit(ctx, root, mgl64.Ident4(), region, &waitGroup, emit, fail)
	waitGroup.Wait()

	return ctx.Err()
}

// fetches one descriptor and walks its tiles, spawning a visit per nested tileset
func (w *Walker) visit(
	ctx context.Context,
	descriptorURL *url.URL,
	transform mgl64.Mat4,
	region geometry.Sphere,
	waitGroup *sync.WaitGroup,
	emit func(fetch.ContentRef),
	fail func(error),
) {
	defer waitGroup.Done()

	descriptor, err := w.fetchDescriptor(ctx, descriptorURL, transform)
	if err != nil {
		w.observer.DescriptorFailed()
		fail(&BranchError{URL: fetch.StripCredentials(descriptorURL).String(), Err: err})
		return
	}
	w.observer.DescriptorFetched()

	w.walk(ctx, descriptor.Root, region, waitGroup, emit, fail)
}

func (w *Walker) fetchDescriptor(ctx context.Context, descriptorURL *url.URL, transform mgl64.Mat4) (*Descriptor, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// the session is read when the request is issued, never patched in afterwards
	resp, err := w.client.Get(ctx, fetch.WithCredentials(descriptorURL, w.apiKey, w.session.Get()))
	w.sem.Release(1)
	if err != nil {
		return nil, err
	}

	if w.session.Observe(sessionFromURL(resp.URL)) {
		glog.Infoln("adopted tileset session from response url")
	}

	base := descriptorURL
	if resp.URL != nil {
		base = fetch.StripCredentials(resp.URL)
	}
	descriptor, err := DecodeDescriptor(resp.Body, base, transform)
	if err != nil {
		return nil, err
	}

	if w.session.Observe(descriptor.Session) {
		glog.Infoln("adopted tileset session from descriptor content")
	}
	return descriptor, nil
}

func (w *Walker) walk(
	ctx context.Context,
	node Node,
	region geometry.Sphere,
	waitGroup *sync.WaitGroup,
	emit func(fetch.ContentRef),
	fail func(error),
) {
	if ctx.Err() != nil {
		return
	}
	if !geometry.SpheresIntersect(node.Bounds(), region) {
		w.observer.NodePruned()
		return
	}

	switch n := node.(type) {
	case *InternalNode:
		for _, child := range n.Children {
			w.walk(ctx, child, region, waitGroup, emit, fail)
		}
	case *ContentLeaf:
		emit(fetch.ContentRef{
			URL:          n.URL,
			SessionToken: w.session.Get(),
			APIKey:       w.apiKey,
		})
	case *TilesetLeaf:
		waitGroup.Add(1)
		go w.visit(ctx, n.URL, n.Transform, region, waitGroup, emit, fail)
	}
}
