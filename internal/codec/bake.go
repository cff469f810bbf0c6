package codec

import (
	"math"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
)

// OutputUp is the vertical axis of baked tiles
var OutputUp = mgl64.Vec3{0, 1, 0}

// node transforms whose linear part has a smaller determinant are treated as singular
const minTransformDet = 1e-12

// yUpToZUp converts glTF y-up coordinates into the z-up ECEF frame: (x, y, z) -> (x, -z, y)
var yUpToZUp = mgl64.Mat4{
	1, 0, 0, 0,
	0, 0, 1, 0,
	0, -1, 0, 0,
	0, 0, 0, 1,
}

// Result of baking one tile
type Result struct {
	Data        []byte
	OriginUsed  mgl64.Vec3 // ECEF origin the translation is relative to
	Reference   mgl64.Vec3 // ECEF reference point of the tile
	Translation mgl64.Vec3 // offset from the origin in the output frame
	Copyright   string
}

// Baker folds node transforms into vertex data so every mesh node ends up
// as a translation-only root relative to a shared origin.
type Baker struct {
	converter    converters.CoordinateConverter
	decompressor MeshDecompressor
}

func NewBaker(converter converters.CoordinateConverter, decompressor MeshDecompressor) *Baker {
	return &Baker{converter: converter, decompressor: decompressor}
}

type meshNode struct {
	index int
	world mgl64.Mat4
}

// bakedAttribute is one validated vertex attribute of a mesh node
type bakedAttribute struct {
	accessor int
	semantic string
	view     *floatView
}

// Bake rewrites raw against origin. A nil origin makes the tile's own reference point the origin.
//
// Each tile is rotated so that the local up at its own reference point becomes OutputUp, not the
// up at origin. Neighbouring tiles therefore differ slightly in rotation and their shared edges
// drift apart as the distance from the origin grows. The gap is about spacing*distance/earthRadius,
// some 16cm between 100m tiles 10km from the origin, so regions should stay small.
// On error no output is produced.
func (b *Baker) Bake(raw []byte, origin *mgl64.Vec3) (*Result, error) {
	doc, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if err := rejectMeshopt(doc); err != nil {
		return nil, err
	}
	if err := decompressMeshes(doc, b.decompressor); err != nil {
		return nil, err
	}
	if err := checkNodes(doc); err != nil {
		return nil, err
	}

	nodes, err := collectMeshNodes(doc)
	if err != nil {
		return nil, err
	}
	if err := checkInvertible(nodes); err != nil {
		return nil, err
	}
	attributes, err := collectAttributes(doc, nodes)
	if err != nil {
		return nil, err
	}

	rtc, err := rtcCenter(doc)
	if err != nil {
		return nil, err
	}
	reference := yUpToZUp.Mul4x1(nodes[0].world.Col(3)).Vec3().Add(rtc)

	geodetic, err := b.converter.ECEFToGeodetic(reference)
	if err != nil {
		return nil, newBakeError(MalformedAsset, "reference point").wrap(err)
	}
	rotation := mgl64.QuatBetweenVectors(geometry.UpVector(geodetic.Lat, geodetic.Lng), OutputUp).Mat4()

	originUsed := reference
	if origin != nil {
		originUsed = *origin
	}
	translation := rotation.Mul4x1(reference.Sub(originUsed).Vec4(0)).Vec3()

	// vertices end up relative to the reference point, the node translation carries the rest
	recenter := rotation.Mul4(mgl64.Translate3D(rtc.Sub(reference).Elem())).Mul4(yUpToZUp)
	for i, node := range nodes {
		bakeAttributes(doc, recenter.Mul4(node.world), attributes[i])
	}

	resetRoots(doc, nodes, translation)

	data, err := serialize(doc)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:        data,
		OriginUsed:  originUsed,
		Reference:   reference,
		Translation: translation,
		Copyright:   doc.Asset.Copyright,
	}, nil
}

// checkInvertible rejects nodes whose world transform flattens geometry, as their normals have no inverse transpose
func checkInvertible(nodes []meshNode) error {
	for _, node := range nodes {
		if math.Abs(node.world.Mat3().Det()) < minTransformDet {
			return newBakeError(MalformedAsset, "degenerate node transform").atNode(node.index)
		}
	}
	return nil
}

// checkNodes enforces one node per mesh and the absence of skins
func checkNodes(doc *gltf.Document) error {
	owners := make(map[int]int)
	for i, node := range doc.Nodes {
		if node.Skin != nil {
			return newBakeError(UnsupportedSkin, "skin %d", *node.Skin).atNode(i)
		}
		if node.Mesh == nil {
			continue
		}
		mesh := *node.Mesh
		if mesh < 0 || mesh >= len(doc.Meshes) {
			return newBakeError(MalformedAsset, "mesh out of range").atNode(i).atMesh(mesh)
		}
		if owner, taken := owners[mesh]; taken {
			return newBakeError(DuplicateMeshReference, "mesh already owned by node %d", owner).atNode(i).atMesh(mesh)
		}
		owners[mesh] = i
	}
	return nil
}

func rootNodes(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		scene := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			scene = *doc.Scene
		}
		return doc.Scenes[scene].Nodes
	}

	isChild := make([]bool, len(doc.Nodes))
	for _, node := range doc.Nodes {
		for _, child := range node.Children {
			if child >= 0 && child < len(isChild) {
				isChild[child] = true
			}
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

// collectMeshNodes walks the scene depth first and returns every mesh node with its world matrix
func collectMeshNodes(doc *gltf.Document) ([]meshNode, error) {
	var nodes []meshNode
	visited := make([]bool, len(doc.Nodes))

	var visit func(index int, parent mgl64.Mat4) error
	visit = func(index int, parent mgl64.Mat4) error {
		if index < 0 || index >= len(doc.Nodes) {
			return newBakeError(MalformedAsset, "node out of range").atNode(index)
		}
		if visited[index] {
			return newBakeError(MalformedAsset, "node reachable twice").atNode(index)
		}
		visited[index] = true

		node := doc.Nodes[index]
		world := parent.Mul4(localMatrix(node))
		if node.Mesh != nil {
			nodes = append(nodes, meshNode{index: index, world: world})
		}
		for _, child := range node.Children {
			if err := visit(child, world); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range rootNodes(doc) {
		if err := visit(root, mgl64.Ident4()); err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return nil, newBakeError(MalformedAsset, "scene has no mesh")
	}
	return nodes, nil
}

func localMatrix(node *gltf.Node) mgl64.Mat4 {
	if node.Matrix != gltf.DefaultMatrix && node.Matrix != ([16]float64{}) {
		return mgl64.Mat4(node.Matrix)
	}

	r := node.Rotation
	if r == ([4]float64{}) {
		r = gltf.DefaultRotation
	}
	s := node.Scale
	if s == ([3]float64{}) {
		s = gltf.DefaultScale
	}
	t := node.Translation

	q := mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}.Normalize()
	return mgl64.Translate3D(t[0], t[1], t[2]).Mul4(q.Mat4()).Mul4(mgl64.Scale3D(s[0], s[1], s[2]))
}

var bakedSemantics = []struct {
	name       string
	components int
}{
	{gltf.POSITION, 3},
	{gltf.NORMAL, 3},
	{gltf.TANGENT, 4},
}

// collectAttributes validates every bakeable accessor of every mesh node before anything is written.
// An accessor is baked once; sharing one between nodes would bake it twice with different matrices.
func collectAttributes(doc *gltf.Document, nodes []meshNode) ([][]bakedAttribute, error) {
	accessorOwner := make(map[int]int)
	out := make([][]bakedAttribute, len(nodes))

	for i, node := range nodes {
		meshIndex := *doc.Nodes[node.index].Mesh
		for _, prim := range doc.Meshes[meshIndex].Primitives {
			if len(prim.Targets) > 0 {
				return nil, newBakeError(UnsupportedAccessor, "morph targets").atNode(node.index).atMesh(meshIndex)
			}
			for _, semantic := range bakedSemantics {
				accessor, ok := prim.Attributes[semantic.name]
				if !ok {
					continue
				}
				if owner, seen := accessorOwner[accessor]; seen {
					if owner != node.index {
						return nil, newBakeError(DuplicateMeshReference, "%s shared with node %d", semantic.name, owner).
							atNode(node.index).atMesh(meshIndex).atAccessor(accessor)
					}
					continue
				}
				view, err := newFloatView(doc, accessor, semantic.components)
				if err != nil {
					return nil, err.atNode(node.index).atMesh(meshIndex)
				}
				accessorOwner[accessor] = node.index
				out[i] = append(out[i], bakedAttribute{accessor: accessor, semantic: semantic.name, view: view})
			}
		}
	}
	return out, nil
}

func rtcCenter(doc *gltf.Document) (mgl64.Vec3, error) {
	value, ok := doc.Extensions[rtcExtension]
	if !ok {
		return mgl64.Vec3{}, nil
	}
	var rtc rtcJSON
	if err := decodeExtension(value, &rtc); err != nil || len(rtc.Center) != 3 {
		return mgl64.Vec3{}, newBakeError(MalformedAsset, "%s center", rtcExtension).wrap(err)
	}
	return mgl64.Vec3{rtc.Center[0], rtc.Center[1], rtc.Center[2]}, nil
}

// bakeAttributes applies transform to positions, and its linear part to normals and tangents
func bakeAttributes(doc *gltf.Document, transform mgl64.Mat4, attributes []bakedAttribute) {
	linear := transform.Mat3()
	normalMatrix := linear.Inv().Transpose()

	value := make([]float64, 4)
	for _, attr := range attributes {
		switch attr.semantic {
		case gltf.POSITION:
			lo := []float64{math.Inf(1), math.Inf(1), math.Inf(1)}
			hi := []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
			for i := 0; i < attr.view.count; i++ {
				attr.view.get(i, value)
				p := transform.Mul4x1(mgl64.Vec4{value[0], value[1], value[2], 1})
				value[0], value[1], value[2] = p[0], p[1], p[2]
				attr.view.set(i, value)
				// bounds from the stored float32 values so they match the data exactly
				attr.view.get(i, value)
				for c := 0; c < 3; c++ {
					lo[c] = math.Min(lo[c], value[c])
					hi[c] = math.Max(hi[c], value[c])
				}
			}
			if attr.view.count > 0 {
				doc.Accessors[attr.accessor].Min = lo
				doc.Accessors[attr.accessor].Max = hi
			}
		case gltf.NORMAL:
			for i := 0; i < attr.view.count; i++ {
				attr.view.get(i, value)
				n := unit(normalMatrix.Mul3x1(mgl64.Vec3{value[0], value[1], value[2]}))
				value[0], value[1], value[2] = n[0], n[1], n[2]
				attr.view.set(i, value)
			}
		case gltf.TANGENT:
			for i := 0; i < attr.view.count; i++ {
				attr.view.get(i, value)
				t := unit(linear.Mul3x1(mgl64.Vec3{value[0], value[1], value[2]}))
				value[0], value[1], value[2] = t[0], t[1], t[2]
				attr.view.set(i, value)
			}
		}
	}
}

// unit normalizes v, leaving degenerate vectors untouched
func unit(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l < 1e-12 {
		return v
	}
	return v.Mul(1 / l)
}

// resetRoots makes every mesh node a translation-only scene root
func resetRoots(doc *gltf.Document, nodes []meshNode, translation mgl64.Vec3) {
	roots := make([]int, 0, len(nodes))
	for _, n := range nodes {
		node := doc.Nodes[n.index]
		node.Matrix = gltf.DefaultMatrix
		node.Rotation = gltf.DefaultRotation
		node.Scale = gltf.DefaultScale
		node.Translation = [3]float64{translation[0], translation[1], translation[2]}
		node.Children = nil
		roots = append(roots, n.index)
	}

	if len(doc.Scenes) == 0 {
		doc.Scenes = []*gltf.Scene{{}}
		doc.Scene = gltf.Index(0)
	}
	scene := 0
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		scene = *doc.Scene
	}
	doc.Scenes[scene].Nodes = roots
}
