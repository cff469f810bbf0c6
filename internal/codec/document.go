package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/qmuntal/gltf"
)

const (
	glbMagic      = 0x46546C67 // "glTF"
	glbVersion    = 2
	glbHeaderSize = 12
	chunkHeader   = 8
	chunkJSON     = 0x4E4F534A
	chunkBIN      = 0x004E4942

	dracoExtension   = "KHR_draco_mesh_compression"
	meshoptExtension = "EXT_meshopt_compression"
	rtcExtension     = "CESIUM_RTC"
)

// checkContainer validates the binary container layout: header, a JSON chunk and an optional BIN chunk
func checkContainer(raw []byte) error {
	if len(raw) < glbHeaderSize+chunkHeader {
		return newBakeError(MalformedAsset, "container is %d bytes", len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != glbMagic {
		return newBakeError(MalformedAsset, "bad signature %#x", magic)
	}
	if version := binary.LittleEndian.Uint32(raw[4:8]); version != glbVersion {
		return newBakeError(MalformedAsset, "unsupported container version %d", version)
	}
	total := int(binary.LittleEndian.Uint32(raw[8:12]))
	if total > len(raw) || total < glbHeaderSize+chunkHeader {
		return newBakeError(MalformedAsset, "declared length %d, have %d bytes", total, len(raw))
	}

	offset := glbHeaderSize
	for i := 0; offset < total; i++ {
		if offset+chunkHeader > total {
			return newBakeError(MalformedAsset, "truncated chunk header at %d", offset)
		}
		length := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
		kind := binary.LittleEndian.Uint32(raw[offset+4 : offset+8])
		if offset+chunkHeader+length > total {
			return newBakeError(MalformedAsset, "chunk %d overruns container", i)
		}
		switch {
		case i == 0 && kind != chunkJSON:
			return newBakeError(MalformedAsset, "first chunk is not JSON")
		case i == 1 && kind != chunkBIN:
			return newBakeError(MalformedAsset, "second chunk is not BIN")
		}
		offset += chunkHeader + length
	}
	return nil
}

// parse decodes a binary container into a document
func parse(raw []byte) (*gltf.Document, error) {
	if err := checkContainer(raw); err != nil {
		return nil, err
	}
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(raw)).Decode(doc); err != nil {
		return nil, newBakeError(MalformedAsset, "decode").wrap(err)
	}
	return doc, nil
}

// serialize encodes the document back into a binary container
func serialize(doc *gltf.Document) ([]byte, error) {
	for _, b := range doc.Buffers {
		if b.URI == "" {
			b.ByteLength = len(b.Data)
		}
	}
	var out bytes.Buffer
	encoder := gltf.NewEncoder(&out)
	encoder.AsBinary = true
	if err := encoder.Encode(doc); err != nil {
		return nil, newBakeError(MalformedAsset, "encode").wrap(err)
	}
	return out.Bytes(), nil
}

func declaresExtension(doc *gltf.Document, name string) bool {
	for _, ext := range doc.ExtensionsUsed {
		if ext == name {
			return true
		}
	}
	for _, ext := range doc.ExtensionsRequired {
		if ext == name {
			return true
		}
	}
	return false
}

func removeExtension(doc *gltf.Document, name string) {
	drop := func(list []string) []string {
		kept := list[:0]
		for _, ext := range list {
			if ext != name {
				kept = append(kept, ext)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		return kept
	}
	doc.ExtensionsUsed = drop(doc.ExtensionsUsed)
	doc.ExtensionsRequired = drop(doc.ExtensionsRequired)
}

// rejectMeshopt fails when any part of the document uses meshoptimizer compression
func rejectMeshopt(doc *gltf.Document) error {
	if declaresExtension(doc, meshoptExtension) {
		return newBakeError(UnsupportedExtension, "%s is not supported", meshoptExtension)
	}
	for i, view := range doc.BufferViews {
		if _, ok := view.Extensions[meshoptExtension]; ok {
			return newBakeError(UnsupportedExtension, "%s on buffer view %d", meshoptExtension, i)
		}
	}
	return nil
}

// decodeExtension converts an extension value into out. Unregistered extensions
// decode as raw JSON, registered ones as typed values; both survive a marshal round.
func decodeExtension(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

type rtcJSON struct {
	Center []float64 `json:"center"`
}
