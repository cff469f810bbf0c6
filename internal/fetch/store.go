package fetch

import (
	"path/filepath"

	"github.com/ecopia-map/cesium_tile_baker/tools"
)

// Durable storage of materialized tiles, keyed by file name
type Store interface {
	Exists(name string) bool
	Write(name string, data []byte) error
	Path(name string) string
}

type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *DiskStore) Exists(name string) bool {
	return tools.FileExists(s.Path(name))
}

func (s *DiskStore) Write(name string, data []byte) error {
	return tools.WriteFileAtomic(s.Path(name), data, 0644)
}
