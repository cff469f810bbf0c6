package codec

import (
	"fmt"
	"sort"

	"github.com/qmuntal/draco-go/draco"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// DecodedAttribute is a flat float attribute with Components values per point
type DecodedAttribute struct {
	Components int
	Data       []float32
}

// DecodedMesh is the uncompressed form of one compressed primitive
type DecodedMesh struct {
	Indices    []uint32
	Attributes map[string]DecodedAttribute
}

// MeshDecompressor decodes a compressed mesh payload. attributes maps each
// semantic (POSITION, NORMAL, ...) to its attribute id inside the payload.
type MeshDecompressor interface {
	Decompress(data []byte, attributes map[string]int) (*DecodedMesh, error)
}

type dracoDecompressor struct{}

// NewDracoDecompressor decodes KHR_draco_mesh_compression payloads
func NewDracoDecompressor() MeshDecompressor {
	return dracoDecompressor{}
}

func (dracoDecompressor) Decompress(data []byte, attributes map[string]int) (*DecodedMesh, error) {
	mesh := draco.NewMesh()
	if err := draco.NewDecoder().DecodeMesh(mesh, data); err != nil {
		return nil, err
	}

	points := int(mesh.NumPoints())
	decoded := &DecodedMesh{
		Indices:    mesh.Faces(nil),
		Attributes: make(map[string]DecodedAttribute, len(attributes)),
	}
	for semantic, id := range attributes {
		attr := mesh.AttrByUniqueID(uint32(id))
		if attr == nil {
			return nil, fmt.Errorf("attribute %s (id %d) missing from payload", semantic, id)
		}
		components := int(attr.NumComponents())
		buffer := make([]float32, points*components)
		if _, ok := mesh.AttrData(attr, buffer); !ok {
			return nil, fmt.Errorf("attribute %s (id %d) cannot be read as float", semantic, id)
		}
		decoded.Attributes[semantic] = DecodedAttribute{Components: components, Data: buffer}
	}
	return decoded, nil
}

type dracoPrimitiveJSON struct {
	BufferView *int           `json:"bufferView"`
	Attributes map[string]int `json:"attributes"`
}

// decompressMeshes replaces every compressed primitive with plain float accessors
// appended to the first buffer, then drops the extension from the document.
func decompressMeshes(doc *gltf.Document, decompressor MeshDecompressor) error {
	if !declaresExtension(doc, dracoExtension) {
		return nil
	}
	if decompressor == nil {
		return newBakeError(UnsupportedExtension, "%s present but no decompressor configured", dracoExtension)
	}

	for meshIndex, mesh := range doc.Meshes {
		for primIndex, prim := range mesh.Primitives {
			value, ok := prim.Extensions[dracoExtension]
			if !ok {
				continue
			}
			if err := decompressPrimitive(doc, prim, value, decompressor); err != nil {
				return newBakeError(MalformedAsset, "primitive %d", primIndex).atMesh(meshIndex).wrap(err)
			}
			delete(prim.Extensions, dracoExtension)
		}
	}
	removeExtension(doc, dracoExtension)
	return nil
}

func decompressPrimitive(doc *gltf.Document, prim *gltf.Primitive, value any, decompressor MeshDecompressor) error {
	var ext dracoPrimitiveJSON
	if err := decodeExtension(value, &ext); err != nil {
		return fmt.Errorf("extension: %w", err)
	}
	if ext.BufferView == nil {
		return fmt.Errorf("extension has no buffer view")
	}
	payload, err := viewBytes(doc, *ext.BufferView)
	if err != nil {
		return err
	}

	decoded, err := decompressor.Decompress(payload, ext.Attributes)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}

	// sorted so the appended buffer layout does not depend on map order
	semantics := make([]string, 0, len(prim.Attributes))
	for semantic := range prim.Attributes {
		if _, compressed := ext.Attributes[semantic]; compressed {
			semantics = append(semantics, semantic)
		}
	}
	sort.Strings(semantics)

	var points int
	for i, semantic := range semantics {
		attr, ok := decoded.Attributes[semantic]
		if !ok || attr.Components < 1 || attr.Components > 4 || len(attr.Data)%attr.Components != 0 {
			return fmt.Errorf("attribute %s not decoded", semantic)
		}
		count := len(attr.Data) / attr.Components
		if i == 0 {
			points = count
		} else if count != points {
			return fmt.Errorf("attribute %s has %d points, want %d", semantic, count, points)
		}
		prim.Attributes[semantic] = writeDecodedAttribute(doc, semantic, attr)
	}

	if len(decoded.Indices) > 0 {
		for _, index := range decoded.Indices {
			if int(index) >= points {
				return fmt.Errorf("index %d out of range for %d points", index, points)
			}
		}
		prim.Indices = gltf.Index(modeler.WriteIndices(doc, decoded.Indices))
	}
	return nil
}

func writeDecodedAttribute(doc *gltf.Document, semantic string, attr DecodedAttribute) int {
	switch {
	case semantic == gltf.POSITION && attr.Components == 3:
		return modeler.WritePosition(doc, toVec3(attr.Data))
	case semantic == gltf.NORMAL && attr.Components == 3:
		return modeler.WriteNormal(doc, toVec3(attr.Data))
	case semantic == gltf.TANGENT && attr.Components == 4:
		return modeler.WriteTangent(doc, toVec4(attr.Data))
	}

	switch attr.Components {
	case 1:
		return modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, attr.Data)
	case 2:
		return modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, toVec2(attr.Data))
	case 3:
		return modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, toVec3(attr.Data))
	default:
		return modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, toVec4(attr.Data))
	}
}

func toVec2(data []float32) [][2]float32 {
	out := make([][2]float32, len(data)/2)
	for i := range out {
		copy(out[i][:], data[i*2:])
	}
	return out
}

func toVec3(data []float32) [][3]float32 {
	out := make([][3]float32, len(data)/3)
	for i := range out {
		copy(out[i][:], data[i*3:])
	}
	return out
}

func toVec4(data []float32) [][4]float32 {
	out := make([][4]float32, len(data)/4)
	for i := range out {
		copy(out[i][:], data[i*4:])
	}
	return out
}
