package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
)

const floatSize = 4

// floatView reads and writes float32 elements of an accessor in place, honoring the view stride
type floatView struct {
	data       []byte
	stride     int
	count      int
	components int
}

func viewBytes(doc *gltf.Document, viewIndex int) ([]byte, error) {
	if viewIndex < 0 || viewIndex >= len(doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", viewIndex)
	}
	view := doc.BufferViews[viewIndex]
	if view.Buffer < 0 || view.Buffer >= len(doc.Buffers) {
		return nil, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := doc.Buffers[view.Buffer].Data
	end := view.ByteOffset + view.ByteLength
	if view.ByteOffset < 0 || view.ByteLength < 0 || end > len(data) {
		return nil, fmt.Errorf("buffer view %d [%d, %d) exceeds buffer of %d bytes", viewIndex, view.ByteOffset, end, len(data))
	}
	return data[view.ByteOffset:end], nil
}

func accessorComponents(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 0
}

// newFloatView validates that accessor is a dense, non normalized float accessor of the given width
func newFloatView(doc *gltf.Document, accessor int, components int) (*floatView, *BakeError) {
	if accessor < 0 || accessor >= len(doc.Accessors) {
		return nil, newBakeError(MalformedAsset, "accessor out of range").atAccessor(accessor)
	}
	acc := doc.Accessors[accessor]
	switch {
	case acc.Sparse != nil:
		return nil, newBakeError(UnsupportedAccessor, "sparse accessor").atAccessor(accessor)
	case acc.ComponentType != gltf.ComponentFloat:
		return nil, newBakeError(UnsupportedAccessor, "component type %v is not float", acc.ComponentType).atAccessor(accessor)
	case acc.Normalized:
		return nil, newBakeError(UnsupportedAccessor, "normalized accessor").atAccessor(accessor)
	case accessorComponents(acc.Type) != components:
		return nil, newBakeError(UnsupportedAccessor, "type %v, want %d components", acc.Type, components).atAccessor(accessor)
	case acc.BufferView == nil:
		return nil, newBakeError(UnsupportedAccessor, "accessor has no buffer view").atAccessor(accessor)
	}

	data, err := viewBytes(doc, *acc.BufferView)
	if err != nil {
		return nil, newBakeError(MalformedAsset, "").atAccessor(accessor).wrap(err)
	}

	elementSize := components * floatSize
	stride := doc.BufferViews[*acc.BufferView].ByteStride
	if stride == 0 {
		stride = elementSize
	}
	if stride < elementSize || acc.ByteOffset < 0 {
		return nil, newBakeError(MalformedAsset, "stride %d for %d byte elements", stride, elementSize).atAccessor(accessor)
	}
	if acc.Count > 0 && acc.ByteOffset+stride*(acc.Count-1)+elementSize > len(data) {
		return nil, newBakeError(MalformedAsset, "%d elements overrun buffer view", acc.Count).atAccessor(accessor)
	}

	return &floatView{
		data:       data[acc.ByteOffset:],
		stride:     stride,
		count:      acc.Count,
		components: components,
	}, nil
}

func (v *floatView) get(i int, out []float64) {
	base := i * v.stride
	for c := 0; c < v.components; c++ {
		bits := binary.LittleEndian.Uint32(v.data[base+c*floatSize:])
		out[c] = float64(math.Float32frombits(bits))
	}
}

func (v *floatView) set(i int, in []float64) {
	base := i * v.stride
	for c := 0; c < v.components; c++ {
		binary.LittleEndian.PutUint32(v.data[base+c*floatSize:], math.Float32bits(float32(in[c])))
	}
}
