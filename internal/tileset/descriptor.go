package tileset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrMalformedDescriptor = errors.New("malformed tileset descriptor")

// Node is one of InternalNode, ContentLeaf or TilesetLeaf
type Node interface {
	Bounds() geometry.Sphere
	isNode()
}

// A region with children. Its own content, if any, is a coarser level of detail and is not fetched.
type InternalNode struct {
	Volume   geometry.Sphere
	Children []Node
}

// A childless tile whose content is a binary asset
type ContentLeaf struct {
	Volume geometry.Sphere
	URL    *url.URL
}

// A childless tile whose content is a nested tileset descriptor
type TilesetLeaf struct {
	Volume    geometry.Sphere
	URL       *url.URL
	Transform mgl64.Mat4 // accumulated transform inherited by the nested tileset
}

func (n *InternalNode) Bounds() geometry.Sphere { return n.Volume }
func (n *ContentLeaf) Bounds() geometry.Sphere  { return n.Volume }
func (n *TilesetLeaf) Bounds() geometry.Sphere  { return n.Volume }

func (*InternalNode) isNode() {}
func (*ContentLeaf) isNode()  {}
func (*TilesetLeaf) isNode()  {}

// Descriptor is a decoded tileset document
type Descriptor struct {
	Root    Node
	Session string // first session token found on a content uri, if any
}

type descriptorJSON struct {
	Root *tileJSON `json:"root"`
}

type tileJSON struct {
	BoundingVolume boundingVolumeJSON `json:"boundingVolume"`
	Transform      []float64          `json:"transform"`
	Content        *contentJSON       `json:"content"`
	Contents       []contentJSON      `json:"contents"`
	Children       []tileJSON         `json:"children"`
}

type boundingVolumeJSON struct {
	Box    []float64 `json:"box"`
	Sphere []float64 `json:"sphere"`
	Region []float64 `json:"region"`
}

type contentJSON struct {
	URI string `json:"uri"`
	URL string `json:"url"` // pre 1.0 tilesets
}

func (c contentJSON) ref() string {
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// DecodeDescriptor parses a tileset document, resolving content references against base.
// parentTransform is the transform accumulated by the tile that referenced this document.
func DecodeDescriptor(body []byte, base *url.URL, parentTransform mgl64.Mat4) (*Descriptor, error) {
	var doc descriptorJSON
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: missing root tile", ErrMalformedDescriptor)
	}

	d := &decoder{base: base}
	root, err := d.decodeTile(doc.Root, parentTransform)
	if err != nil {
		return nil, err
	}
	return &Descriptor{Root: root, Session: d.session}, nil
}

type decoder struct {
	base    *url.URL
	session string
}

func (d *decoder) decodeTile(t *tileJSON, parentTransform mgl64.Mat4) (Node, error) {
	transform := parentTransform
	if len(t.Transform) != 0 {
		if len(t.Transform) != 16 {
			return nil, fmt.Errorf("%w: transform has %d elements", ErrMalformedDescriptor, len(t.Transform))
		}
		var local mgl64.Mat4
		copy(local[:], t.Transform)
		transform = parentTransform.Mul4(local)
	}

	volume, err := boundingSphere(t.BoundingVolume, transform)
	if err != nil {
		return nil, err
	}

	if len(t.Children) > 0 {
		node := &InternalNode{Volume: volume, Children: make([]Node, 0, len(t.Children))}
		for i := range t.Children {
			child, err := d.decodeTile(&t.Children[i], transform)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	content := t.Content
	if content == nil && len(t.Contents) > 0 {
		content = &t.Contents[0]
	}
	if content == nil || content.ref() == "" {
		return &InternalNode{Volume: volume}, nil
	}

	ref, err := url.Parse(content.ref())
	if err != nil {
		return nil, fmt.Errorf("%w: content uri %q: %v", ErrMalformedDescriptor, content.ref(), err)
	}
	resolved := d.base.ResolveReference(ref)
	if d.session == "" {
		d.session = resolved.Query().Get(fetch.SessionParam)
	}

	switch {
	case fetch.IsAsset(resolved):
		return &ContentLeaf{Volume: volume, URL: resolved}, nil
	case fetch.IsTileset(resolved):
		return &TilesetLeaf{Volume: volume, URL: resolved, Transform: transform}, nil
	default:
		// other content types (b3dm, pnts, ...) are not materialized
		return &InternalNode{Volume: volume}, nil
	}
}

func boundingSphere(bv boundingVolumeJSON, transform mgl64.Mat4) (geometry.Sphere, error) {
	switch {
	case bv.Box != nil:
		box, err := geometry.NewOrientedBox(bv.Box)
		if err != nil {
			return geometry.Sphere{}, fmt.Errorf("%w: box: %v", ErrMalformedDescriptor, err)
		}
		center := transform.Mul4x1(box.Center.Vec4(1)).Vec3()
		linear := transform.Mat3()
		var axes [3]mgl64.Vec3
		for i, axis := range box.HalfAxes {
			axes[i] = linear.Mul3x1(axis)
		}
		return geometry.ApproximateBoundingSphere(center, axes), nil
	case bv.Sphere != nil:
		sphere, err := geometry.NewSphere(bv.Sphere)
		if err != nil {
			return geometry.Sphere{}, fmt.Errorf("%w: sphere: %v", ErrMalformedDescriptor, err)
		}
		sphere.Center = transform.Mul4x1(sphere.Center.Vec4(1)).Vec3()
		sphere.Radius *= maxScale(transform)
		return sphere, nil
	case bv.Region != nil:
		// regions are always geographic, tile transforms do not apply
		region, err := geometry.NewRegion(bv.Region)
		if err != nil {
			return geometry.Sphere{}, fmt.Errorf("%w: region: %v", ErrMalformedDescriptor, err)
		}
		return region.BoundingSphere(), nil
	}
	return geometry.Sphere{}, fmt.Errorf("%w: missing bounding volume", ErrMalformedDescriptor)
}

func maxScale(m mgl64.Mat4) float64 {
	return math.Max(m.Col(0).Vec3().Len(), math.Max(m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len()))
}
