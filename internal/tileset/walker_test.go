package tileset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tilesetServer serves canned descriptors and records every request it receives
type tilesetServer struct {
	*httptest.Server
	documents map[string]string
	redirects map[string]string

	mu       sync.Mutex
	requests []*url.URL
}

func newTilesetServer(t *testing.T, documents map[string]string) *tilesetServer {
	s := &tilesetServer{documents: documents, redirects: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL)
		s.mu.Unlock()

		if target, ok := s.redirects[r.URL.Path]; ok && r.URL.Query().Get(fetch.SessionParam) == "" {
			q := r.URL.Query()
			q.Set(fetch.SessionParam, target)
			http.Redirect(w, r, r.URL.Path+"?"+q.Encode(), http.StatusFound)
			return
		}
		body, ok := s.documents[r.URL.Path]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *tilesetServer) requestsFor(path string) []*url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*url.URL
	for _, r := range s.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func box(x float64, half float64) string {
	return fmt.Sprintf(`{"box":[%g,0,0,%g,0,0,0,%g,0,0,0,%g]}`, x, half, half, half)
}

func tile(volume string, content string, children ...string) string {
	parts := []string{`"boundingVolume":` + volume}
	if content != "" {
		parts = append(parts, `"content":{"uri":"`+content+`"}`)
	}
	if len(children) > 0 {
		parts = append(parts, `"children":[`+strings.Join(children, ",")+`]`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func document(root string) string {
	return `{"asset":{"version":"1.0"},"geometricError":100,"root":` + root + `}`
}

type collector struct {
	mu       sync.Mutex
	refs     []fetch.ContentRef
	failures []error
}

func (c *collector) emit(ref fetch.ContentRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.refs {
		out = append(out, r.URL.Path)
	}
	sort.Strings(out)
	return out
}

var testRegion = geometry.Sphere{Center: mgl64.Vec3{0, 0, 0}, Radius: 50}

func TestWalkerPrunesSubtreesOutsideRegion(t *testing.T) {
	server := newTilesetServer(t, map[string]string{
		"/root.json": document(tile(box(0, 2000), "",
			tile(box(10, 1), "/near.json"),
			tile(box(100, 1), "/far.json"),
		)),
		"/near.json": document(tile(box(10, 5), "",
			tile(box(12, 1), "/tiles/a.glb"),
			tile(box(-20, 1), "/tiles/b.glb"),
			tile(box(500, 1), "/tiles/outside.glb"),
		)),
		"/far.json": document(tile(box(100, 1), "/tiles/never.glb")),
	})

	walker := NewWalker(fetch.NewHTTPClient(5*time.Second, 4, "test"), "K", 4, nil)
	c := &collector{}
	err := walker.Traverse(context.Background(), server.URL+"/root.json", testRegion, c.emit, c.fail)
	require.NoError(t, err)

	assert.Empty(t, c.failures)
	assert.Equal(t, []string{"/tiles/a.glb", "/tiles/b.glb"}, c.paths())
	assert.Empty(t, server.requestsFor("/far.json"))
	assert.Len(t, server.requestsFor("/near.json"), 1)

	for _, r := range server.requestsFor("/root.json") {
		assert.Equal(t, "K", r.Query().Get(fetch.KeyParam))
	}
}

func TestWalkerIsolatesBranchFailures(t *testing.T) {
	server := newTilesetServer(t, map[string]string{
		"/root.json": document(tile(box(0, 2000), "",
			tile(box(10, 1), "/broken.json"),
			tile(box(-10, 1), "/garbled.json"),
			tile(box(5, 1), "/ok.json"),
		)),
		"/garbled.json": `{"root":`,
		"/ok.json":      document(tile(box(5, 1), "/tiles/ok.glb")),
	})

	walker := NewWalker(fetch.NewHTTPClient(5*time.Second, 4, "test"), "K", 2, nil)
	c := &collector{}
	require.NoError(t, walker.Traverse(context.Background(), server.URL+"/root.json", testRegion, c.emit, c.fail))

	assert.Equal(t, []string{"/tiles/ok.glb"}, c.paths())
	require.Len(t, c.failures, 2)

	var transient, malformed int
	for _, err := range c.failures {
		var branchErr *BranchError
		require.True(t, errors.As(err, &branchErr))
		assert.NotContains(t, branchErr.URL, "key=")
		switch {
		case errors.Is(err, fetch.ErrTransient):
			transient++
		case errors.Is(err, ErrMalformedDescriptor):
			malformed++
		}
	}
	assert.Equal(t, 1, transient)
	assert.Equal(t, 1, malformed)
}

func TestWalkerPropagatesObservedSession(t *testing.T) {
	server := newTilesetServer(t, map[string]string{
		"/root.json": document(tile(box(0, 2000), "", tile(box(10, 5), "/a.json"))),
		"/a.json":    document(tile(box(10, 5), "", tile(box(10, 1), "/b.json"), tile(box(11, 1), "/tiles/a.glb"))),
		"/b.json":    document(tile(box(10, 1), "/tiles/b.glb")),
	})
	// a.json is only served after a redirect that hands out the session
	server.redirects["/a.json"] = "S1"

	walker := NewWalker(fetch.NewHTTPClient(5*time.Second, 4, "test"), "K", 1, nil)
	c := &collector{}
	require.NoError(t, walker.Traverse(context.Background(), server.URL+"/root.json", testRegion, c.emit, c.fail))
	assert.Empty(t, c.failures)
	assert.Equal(t, "S1", walker.Session())

	// requests issued before the session was observed never gain it
	for _, r := range server.requestsFor("/root.json") {
		assert.False(t, r.Query().Has(fetch.SessionParam))
	}
	aRequests := server.requestsFor("/a.json")
	require.Len(t, aRequests, 2)
	assert.False(t, aRequests[0].Query().Has(fetch.SessionParam))

	bRequests := server.requestsFor("/b.json")
	require.Len(t, bRequests, 1)
	assert.Equal(t, "S1", bRequests[0].Query().Get(fetch.SessionParam))

	require.Len(t, c.refs, 2)
	for _, ref := range c.refs {
		assert.Equal(t, "S1", ref.SessionToken)
		assert.Equal(t, "S1", mustQuery(t, ref.RequestURL()).Get(fetch.SessionParam))
	}
}

func TestWalkerAdoptsSessionFromContentURIs(t *testing.T) {
	server := newTilesetServer(t, map[string]string{
		"/root.json": document(tile(box(0, 2000), "", tile(box(10, 5), "/a.json?session=FROM_URI"))),
		"/a.json":    document(tile(box(10, 5), "", tile(box(10, 1), "/b.json"))),
		"/b.json":    document(tile(box(10, 1), "/tiles/b.glb")),
	})

	walker := NewWalker(fetch.NewHTTPClient(5*time.Second, 4, "test"), "K", 2, nil)
	c := &collector{}
	require.NoError(t, walker.Traverse(context.Background(), server.URL+"/root.json", testRegion, c.emit, c.fail))

	bRequests := server.requestsFor("/b.json")
	require.Len(t, bRequests, 1)
	assert.Equal(t, "FROM_URI", bRequests[0].Query().Get(fetch.SessionParam))
}

func TestDecodeDescriptorVariants(t *testing.T) {
	base, _ := url.Parse("https://tile.example.com/v1/3dtiles/root.json")
	body := document(tile(box(0, 10), "coarse.glb",
		tile(box(1, 1), "files/leaf.glb?session=S"),
		tile(box(2, 1), "/v1/3dtiles/nested.json"),
		tile(`{"sphere":[3,0,0,1]}`, ""),
		tile(box(4, 1), "points.pnts"),
	))

	d, err := DecodeDescriptor([]byte(body), base, mgl64.Ident4())
	require.NoError(t, err)
	assert.Equal(t, "S", d.Session)

	root, ok := d.Root.(*InternalNode)
	require.True(t, ok)
	require.Len(t, root.Children, 4)

	leaf, ok := root.Children[0].(*ContentLeaf)
	require.True(t, ok)
	assert.Equal(t, "https://tile.example.com/v1/3dtiles/files/leaf.glb?session=S", leaf.URL.String())

	nested, ok := root.Children[1].(*TilesetLeaf)
	require.True(t, ok)
	assert.Equal(t, "/v1/3dtiles/nested.json", nested.URL.Path)

	empty, ok := root.Children[2].(*InternalNode)
	require.True(t, ok)
	assert.Empty(t, empty.Children)
	assert.Equal(t, 1.0, empty.Volume.Radius)

	_, ok = root.Children[3].(*InternalNode)
	assert.True(t, ok)
}

func TestDecodeDescriptorAppliesTransforms(t *testing.T) {
	base, _ := url.Parse("https://tile.example.com/root.json")
	body := `{"root":{"transform":[2,0,0,0, 0,2,0,0, 0,0,2,0, 100,0,0,1],
		"boundingVolume":{"sphere":[1,0,0,1]},"content":{"uri":"a.glb"}}}`

	d, err := DecodeDescriptor([]byte(body), base, mgl64.Ident4())
	require.NoError(t, err)
	s := d.Root.Bounds()
	assert.InDelta(t, 102, s.Center[0], 1e-9)
	assert.InDelta(t, 2, s.Radius, 1e-9)
}

func TestDecodeDescriptorRejectsMissingVolume(t *testing.T) {
	base, _ := url.Parse("https://tile.example.com/root.json")
	_, err := DecodeDescriptor([]byte(`{"root":{"content":{"uri":"a.glb"}}}`), base, mgl64.Ident4())
	assert.ErrorIs(t, err, ErrMalformedDescriptor)
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}
