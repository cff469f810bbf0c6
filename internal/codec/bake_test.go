package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ecopia-map/cesium_tile_baker/internal/converters/coordinate/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-3

var (
	tileCenter = geometry.ToECEF(45, 9, 100)
	triangle   = [][3]float32{{0, 0, 0}, {4, 0, 0}, {0, 3, 0}}
)

// toGLTFTranslation expresses an ECEF point in the y-up frame used inside tiles
func toGLTFTranslation(p mgl64.Vec3) [3]float64 {
	return [3]float64{p[0], p[2], -p[1]}
}

func newBakerForTest() *Baker {
	return NewBaker(ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter(), nil)
}

func newDocument() *gltf.Document {
	return &gltf.Document{
		Asset:   gltf.Asset{Version: "2.0", Copyright: "Imagery Provider"},
		Buffers: []*gltf.Buffer{{}},
		Scene:   gltf.Index(0),
		Scenes:  []*gltf.Scene{{}},
	}
}

// addTriangleMesh appends a single triangle mesh and returns its index
func addTriangleMesh(doc *gltf.Document) int {
	normals := [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	tangents := [][4]float32{{1, 0, 0, -1}, {1, 0, 0, -1}, {1, 0, 0, -1}}
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Primitives: []*gltf.Primitive{{
			Attributes: map[string]int{
				gltf.POSITION: modeler.WritePosition(doc, triangle),
				gltf.NORMAL:   modeler.WriteNormal(doc, normals),
				gltf.TANGENT:  modeler.WriteTangent(doc, tangents),
			},
			Indices: gltf.Index(modeler.WriteIndices(doc, []uint16{0, 1, 2})),
		}},
	})
	return len(doc.Meshes) - 1
}

// twoNodeTile has a rotated and scaled root at the tile center holding mesh 0,
// and a translated child holding mesh 1.
func twoNodeTile() *gltf.Document {
	doc := newDocument()
	addTriangleMesh(doc)
	addTriangleMesh(doc)

	q := mgl64.QuatRotate(mgl64.DegToRad(30), mgl64.Vec3{0, 1, 0})
	doc.Nodes = []*gltf.Node{
		{
			Mesh:        gltf.Index(0),
			Translation: toGLTFTranslation(tileCenter),
			Rotation:    [4]float64{q.V[0], q.V[1], q.V[2], q.W},
			Scale:       [3]float64{2, 2, 2},
			Children:    []int{1},
		},
		{
			Mesh:        gltf.Index(1),
			Translation: [3]float64{10, 0, 0},
		},
	}
	doc.Scenes[0].Nodes = []int{0}
	return doc
}

func encode(t *testing.T, doc *gltf.Document) []byte {
	t.Helper()
	var out bytes.Buffer
	encoder := gltf.NewEncoder(&out)
	encoder.AsBinary = true
	require.NoError(t, encoder.Encode(doc))
	return out.Bytes()
}

func decode(t *testing.T, data []byte) *gltf.Document {
	t.Helper()
	doc := new(gltf.Document)
	require.NoError(t, gltf.NewDecoder(bytes.NewReader(data)).Decode(doc))
	return doc
}

func readVectors(t *testing.T, doc *gltf.Document, accessor int, components int) []mgl64.Vec4 {
	t.Helper()
	view, err := newFloatView(doc, accessor, components)
	require.Nil(t, err)
	out := make([]mgl64.Vec4, view.count)
	value := make([]float64, 4)
	for i := range out {
		view.get(i, value)
		copy(out[i][:], value[:components])
	}
	return out
}

// ecefVertices returns the ECEF position of every vertex of every mesh node, keyed by mesh
func ecefVertices(t *testing.T, doc *gltf.Document) map[int][]mgl64.Vec3 {
	t.Helper()
	nodes, err := collectMeshNodes(doc)
	require.NoError(t, err)
	out := make(map[int][]mgl64.Vec3)
	for _, node := range nodes {
		mesh := *doc.Nodes[node.index].Mesh
		accessor := doc.Meshes[mesh].Primitives[0].Attributes[gltf.POSITION]
		for _, v := range readVectors(t, doc, accessor, 3) {
			p := yUpToZUp.Mul4(node.world).Mul4x1(mgl64.Vec4{v[0], v[1], v[2], 1}).Vec3()
			out[mesh] = append(out[mesh], p)
		}
	}
	return out
}

func assertVecInDelta(t *testing.T, expected, actual mgl64.Vec3, delta float64) {
	t.Helper()
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], delta, "component %d of %v vs %v", i, expected, actual)
	}
}

func TestBakeProducesTranslationOnlyRoots(t *testing.T) {
	source := twoNodeTile()
	raw := encode(t, source)
	before := ecefVertices(t, decode(t, raw))

	result, err := newBakerForTest().Bake(raw, nil)
	require.NoError(t, err)

	assertVecInDelta(t, tileCenter, result.Reference, 1e-6)
	assert.Equal(t, result.Reference, result.OriginUsed)
	assertVecInDelta(t, mgl64.Vec3{}, result.Translation, 1e-9)
	assert.Equal(t, "Imagery Provider", result.Copyright)

	baked := decode(t, result.Data)
	assert.ElementsMatch(t, []int{0, 1}, baked.Scenes[*baked.Scene].Nodes)

	up := geometry.UpVector(45, 9)
	for _, index := range []int{0, 1} {
		node := baked.Nodes[index]
		assert.Contains(t, [][4]float64{gltf.DefaultRotation, {}}, node.Rotation)
		assert.Contains(t, [][3]float64{gltf.DefaultScale, {}}, node.Scale)
		assert.Contains(t, [][16]float64{gltf.DefaultMatrix, {}}, node.Matrix)
		assert.Empty(t, node.Children)
		assertVecInDelta(t, result.Translation, mgl64.Vec3(node.Translation), 1e-9)

		prim := baked.Meshes[*node.Mesh].Primitives[0]
		positions := readVectors(t, baked, prim.Attributes[gltf.POSITION], 3)
		original := before[*node.Mesh]
		require.Len(t, positions, len(original))

		translation := mgl64.Vec3(node.Translation)
		for i, p := range positions {
			final := p.Vec3().Add(translation)
			offset := original[i].Sub(result.OriginUsed)
			// rigid: distance to the origin and height above it survive the realignment
			assert.InDelta(t, offset.Len(), final.Len(), tolerance)
			assert.InDelta(t, offset.Dot(up), final[1], tolerance)
		}

		acc := baked.Accessors[prim.Attributes[gltf.POSITION]]
		require.Len(t, acc.Min, 3)
		require.Len(t, acc.Max, 3)
		for _, p := range positions {
			for c := 0; c < 3; c++ {
				assert.LessOrEqual(t, acc.Min[c], p[c])
				assert.GreaterOrEqual(t, acc.Max[c], p[c])
			}
		}

		for _, n := range readVectors(t, baked, prim.Attributes[gltf.NORMAL], 3) {
			assert.InDelta(t, 1, n.Vec3().Len(), 1e-5)
		}
		for _, tangent := range readVectors(t, baked, prim.Attributes[gltf.TANGENT], 4) {
			assert.InDelta(t, 1, tangent.Vec3().Len(), 1e-5)
			assert.Equal(t, -1.0, tangent[3])
		}
	}
}

func TestBakePreservesRelativeGeometryBetweenNodes(t *testing.T) {
	raw := encode(t, twoNodeTile())
	before := ecefVertices(t, decode(t, raw))

	result, err := newBakerForTest().Bake(raw, nil)
	require.NoError(t, err)
	baked := decode(t, result.Data)

	first := readVectors(t, baked, baked.Meshes[0].Primitives[0].Attributes[gltf.POSITION], 3)
	second := readVectors(t, baked, baked.Meshes[1].Primitives[0].Attributes[gltf.POSITION], 3)

	expected := before[1][0].Sub(before[0][0]).Len()
	assert.InDelta(t, expected, second[0].Vec3().Sub(first[0].Vec3()).Len(), tolerance)
}

func TestBakeWithExplicitOrigin(t *testing.T) {
	raw := encode(t, twoNodeTile())
	up := geometry.UpVector(45, 9)
	origin := tileCenter.Add(up.Mul(100))

	result, err := newBakerForTest().Bake(raw, &origin)
	require.NoError(t, err)
	assert.Equal(t, origin, result.OriginUsed)
	assertVecInDelta(t, mgl64.Vec3{0, -100, 0}, result.Translation, 1e-6)

	again, err := newBakerForTest().Bake(raw, &origin)
	require.NoError(t, err)
	assert.Equal(t, result.Translation, again.Translation)
	assert.Equal(t, result.Data, again.Data)
}

func TestBakeUsesRTCCenter(t *testing.T) {
	doc := newDocument()
	addTriangleMesh(doc)
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = []int{0}
	doc.Extensions = gltf.Extensions{
		rtcExtension: map[string]any{"center": []float64{tileCenter[0], tileCenter[1], tileCenter[2]}},
	}
	doc.ExtensionsUsed = []string{rtcExtension}

	result, err := newBakerForTest().Bake(encode(t, doc), nil)
	require.NoError(t, err)
	assertVecInDelta(t, tileCenter, result.Reference, 1e-6)
}

func TestBakeRejectsDuplicateMeshReference(t *testing.T) {
	doc := newDocument()
	addTriangleMesh(doc)
	doc.Nodes = []*gltf.Node{
		{Mesh: gltf.Index(0), Translation: toGLTFTranslation(tileCenter)},
		{Mesh: gltf.Index(0)},
	}
	doc.Scenes[0].Nodes = []int{0, 1}

	result, err := newBakerForTest().Bake(encode(t, doc), nil)
	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrDuplicateMeshReference)

	var bakeErr *BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, 1, bakeErr.Node)
	assert.Equal(t, 0, bakeErr.Mesh)
}

func TestBakeRejectsAccessorSharedBetweenNodes(t *testing.T) {
	doc := newDocument()
	addTriangleMesh(doc)
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: doc.Meshes[0].Primitives[0].Attributes[gltf.POSITION]},
	}}})
	doc.Nodes = []*gltf.Node{
		{Mesh: gltf.Index(0), Translation: toGLTFTranslation(tileCenter)},
		{Mesh: gltf.Index(1)},
	}
	doc.Scenes[0].Nodes = []int{0, 1}

	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	assert.ErrorIs(t, err, ErrDuplicateMeshReference)
}

func TestBakeRejectsMeshopt(t *testing.T) {
	doc := twoNodeTile()
	doc.ExtensionsUsed = []string{meshoptExtension}

	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, UnsupportedExtension, kind)
}

func TestBakeRejectsSkin(t *testing.T) {
	doc := twoNodeTile()
	doc.Skins = []*gltf.Skin{{Joints: []int{1}}}
	doc.Nodes[0].Skin = gltf.Index(0)

	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	assert.ErrorIs(t, err, ErrUnsupportedSkin)
}

func TestBakeRejectsDegenerateNodeTransform(t *testing.T) {
	doc := twoNodeTile()
	doc.Nodes[1].Scale = [3]float64{1, 0, 1}

	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	require.ErrorIs(t, err, ErrMalformedAsset)
	var bakeErr *BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, 1, bakeErr.Node)
}

func TestBakeRejectsNonFloatPositions(t *testing.T) {
	doc := newDocument()
	positions := modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, [][3]uint16{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: positions},
	}}}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0), Translation: toGLTFTranslation(tileCenter)}}
	doc.Scenes[0].Nodes = []int{0}

	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	require.ErrorIs(t, err, ErrUnsupportedAccessor)

	var bakeErr *BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, positions, bakeErr.Accessor)
	assert.Equal(t, 0, bakeErr.Node)
}

func TestBakeRejectsMalformedContainers(t *testing.T) {
	valid := encode(t, twoNodeTile())

	cases := map[string][]byte{
		"empty":     nil,
		"not glb":   []byte(`{"asset":{"version":"2.0"}}`),
		"truncated": valid[:len(valid)/2],
		"version 1": append([]byte("glTF\x01\x00\x00\x00"), valid[8:]...),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := newBakerForTest().Bake(raw, nil)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrMalformedAsset)
		})
	}
}

type fakeDecompressor struct {
	payload    []byte
	attributes map[string]int
}

func (f *fakeDecompressor) Decompress(data []byte, attributes map[string]int) (*DecodedMesh, error) {
	f.payload = append([]byte(nil), data...)
	f.attributes = attributes
	return &DecodedMesh{
		Indices: []uint32{0, 1, 2},
		Attributes: map[string]DecodedAttribute{
			gltf.POSITION:   {Components: 3, Data: []float32{0, 0, 0, 4, 0, 0, 0, 3, 0}},
			gltf.NORMAL:     {Components: 3, Data: []float32{0, 0, 2, 0, 0, 2, 0, 0, 2}},
			gltf.TEXCOORD_0: {Components: 2, Data: []float32{0, 0, 1, 0, 0, 1}},
		},
	}, nil
}

func dracoTile() (*gltf.Document, []byte) {
	doc := newDocument()
	payload := []byte("DRACO-payload")
	doc.Buffers[0].Data = append(doc.Buffers[0].Data, payload...)
	doc.Buffers[0].ByteLength = len(doc.Buffers[0].Data)
	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{Buffer: 0, ByteLength: len(payload)})

	for range []string{gltf.POSITION, gltf.NORMAL, gltf.TEXCOORD_0} {
		doc.Accessors = append(doc.Accessors, &gltf.Accessor{ComponentType: gltf.ComponentFloat, Count: 3})
	}
	doc.Accessors[0].Type = gltf.AccessorVec3
	doc.Accessors[1].Type = gltf.AccessorVec3
	doc.Accessors[2].Type = gltf.AccessorVec2

	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: 0, gltf.NORMAL: 1, gltf.TEXCOORD_0: 2},
		Extensions: gltf.Extensions{
			dracoExtension: map[string]any{
				"bufferView": 0,
				"attributes": map[string]int{gltf.POSITION: 0, gltf.NORMAL: 1, gltf.TEXCOORD_0: 2},
			},
		},
	}}}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0), Translation: toGLTFTranslation(tileCenter)}}
	doc.Scenes[0].Nodes = []int{0}
	doc.ExtensionsUsed = []string{dracoExtension}
	doc.ExtensionsRequired = []string{dracoExtension}
	return doc, payload
}

func TestBakeDecompressesDracoPrimitives(t *testing.T) {
	doc, payload := dracoTile()
	decompressor := &fakeDecompressor{}
	baker := NewBaker(ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter(), decompressor)

	result, err := baker.Bake(encode(t, doc), nil)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressor.payload)
	assert.Equal(t, map[string]int{gltf.POSITION: 0, gltf.NORMAL: 1, gltf.TEXCOORD_0: 2}, decompressor.attributes)

	baked := decode(t, result.Data)
	assert.NotContains(t, baked.ExtensionsUsed, dracoExtension)
	assert.NotContains(t, baked.ExtensionsRequired, dracoExtension)

	prim := baked.Meshes[0].Primitives[0]
	assert.NotContains(t, prim.Extensions, dracoExtension)
	require.NotNil(t, prim.Indices)
	assert.Equal(t, 3, baked.Accessors[*prim.Indices].Count)

	positions := readVectors(t, baked, prim.Attributes[gltf.POSITION], 3)
	require.Len(t, positions, 3)
	assert.InDelta(t, 4, positions[1].Vec3().Sub(positions[0].Vec3()).Len(), tolerance)
	assert.InDelta(t, 5, positions[2].Vec3().Sub(positions[1].Vec3()).Len(), tolerance)

	for _, n := range readVectors(t, baked, prim.Attributes[gltf.NORMAL], 3) {
		assert.InDelta(t, 1, n.Vec3().Len(), 1e-5)
	}
	uv := readVectors(t, baked, prim.Attributes[gltf.TEXCOORD_0], 2)
	assert.Equal(t, mgl64.Vec4{1, 0, 0, 0}, uv[1])
}

func TestBakeRejectsDracoWithoutDecompressor(t *testing.T) {
	doc, _ := dracoTile()
	_, err := newBakerForTest().Bake(encode(t, doc), nil)
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestBakeErrorMessageCarriesContext(t *testing.T) {
	err := newBakeError(UnsupportedAccessor, "sparse accessor").atNode(2).atMesh(1).atAccessor(7)
	err.Tile = "abc.glb"
	assert.Equal(t, "UnsupportedAccessor tile=abc.glb node=2 mesh=1 accessor=7: sparse accessor", err.Error())
	assert.True(t, errors.Is(err, ErrUnsupportedAccessor))
	assert.False(t, errors.Is(err, ErrUnsupportedSkin))
}

func TestUnitLeavesDegenerateVectors(t *testing.T) {
	assert.Equal(t, mgl64.Vec3{}, unit(mgl64.Vec3{}))
	assert.InDelta(t, 1, unit(mgl64.Vec3{3, 4, 0}).Len(), 1e-12)
	assert.False(t, math.IsNaN(unit(mgl64.Vec3{1e-20, 0, 0})[0]))
}
