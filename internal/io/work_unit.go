package io

import (
	"path/filepath"
	"strings"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
)

// Contains the minimal data needed to produce a single baked tile. Exactly one of Ref and Path is set:
// Ref for a remote asset discovered by the walker, Path for a local glb file found under Root.
type WorkUnit struct {
	Ref  *fetch.ContentRef
	Path string
	Root string
}

// Source identifies the unit in logs and in the manifest, credentials excluded
func (w *WorkUnit) Source() string {
	if w.Ref != nil {
		return w.Ref.String()
	}
	return w.Path
}

// Filename is the name of the baked tile inside the output folder. Local files keep
// their folder structure below Root, so equally named files in sibling folders stay apart.
func (w *WorkUnit) Filename() string {
	if w.Ref != nil {
		return w.Ref.Filename()
	}
	name := filepath.Base(w.Path)
	if w.Root != "" {
		if rel, err := filepath.Rel(w.Root, w.Path); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	return filepath.ToSlash(strings.TrimSuffix(name, filepath.Ext(name)) + fetch.AssetExtension)
}
