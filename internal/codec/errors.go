package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a tile could not be baked
type Kind int

const (
	MalformedAsset Kind = iota
	UnsupportedExtension
	UnsupportedAccessor
	UnsupportedSkin
	DuplicateMeshReference
)

var (
	ErrMalformedAsset         = errors.New("malformed asset")
	ErrUnsupportedExtension   = errors.New("unsupported extension")
	ErrUnsupportedAccessor    = errors.New("unsupported accessor")
	ErrUnsupportedSkin        = errors.New("unsupported skin")
	ErrDuplicateMeshReference = errors.New("duplicate mesh reference")
)

var kindSentinels = map[Kind]error{
	MalformedAsset:         ErrMalformedAsset,
	UnsupportedExtension:   ErrUnsupportedExtension,
	UnsupportedAccessor:    ErrUnsupportedAccessor,
	UnsupportedSkin:        ErrUnsupportedSkin,
	DuplicateMeshReference: ErrDuplicateMeshReference,
}

func (k Kind) String() string {
	switch k {
	case MalformedAsset:
		return "MalformedAsset"
	case UnsupportedExtension:
		return "UnsupportedExtension"
	case UnsupportedAccessor:
		return "UnsupportedAccessor"
	case UnsupportedSkin:
		return "UnsupportedSkin"
	case DuplicateMeshReference:
		return "DuplicateMeshReference"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// BakeError is fatal for a single tile. Node, Mesh and Accessor are -1 when not applicable.
type BakeError struct {
	Kind     Kind
	Tile     string
	Node     int
	Mesh     int
	Accessor int
	Detail   string
	Err      error
}

func newBakeError(kind Kind, detail string, args ...any) *BakeError {
	return &BakeError{
		Kind:     kind,
		Node:     -1,
		Mesh:     -1,
		Accessor: -1,
		Detail:   fmt.Sprintf(detail, args...),
	}
}

func (e *BakeError) atNode(node int) *BakeError {
	e.Node = node
	return e
}

func (e *BakeError) atMesh(mesh int) *BakeError {
	e.Mesh = mesh
	return e
}

func (e *BakeError) atAccessor(accessor int) *BakeError {
	e.Accessor = accessor
	return e
}

func (e *BakeError) wrap(err error) *BakeError {
	e.Err = err
	return e
}

func (e *BakeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Tile != "" {
		fmt.Fprintf(&b, " tile=%s", e.Tile)
	}
	if e.Node >= 0 {
		fmt.Fprintf(&b, " node=%d", e.Node)
	}
	if e.Mesh >= 0 {
		fmt.Fprintf(&b, " mesh=%d", e.Mesh)
	}
	if e.Accessor >= 0 {
		fmt.Fprintf(&b, " accessor=%d", e.Accessor)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel of the error kind, so errors.Is(err, ErrUnsupportedSkin) works
func (e *BakeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *BakeError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a bake error, or false when err is not one
func KindOf(err error) (Kind, bool) {
	var bakeErr *BakeError
	if errors.As(err, &bakeErr) {
		return bakeErr.Kind, true
	}
	return 0, false
}
