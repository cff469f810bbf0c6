package origin

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Cell holds the shared ECEF origin of a run. It is assigned at most once.
type Cell struct {
	mu    sync.RWMutex
	value mgl64.Vec3
	set   bool
}

func NewCell() *Cell {
	return &Cell{}
}

// NewFixedCell returns a cell that already holds value, so every bake uses it unconditionally
func NewFixedCell(value mgl64.Vec3) *Cell {
	return &Cell{value: value, set: true}
}

// Get returns the origin and whether it has been assigned
func (c *Cell) Get() (mgl64.Vec3, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Pointer returns the origin or nil when unassigned
func (c *Cell) Pointer() *mgl64.Vec3 {
	value, ok := c.Get()
	if !ok {
		return nil
	}
	return &value
}

// TrySet assigns candidate if the cell is still empty. It returns the value held
// afterwards and whether candidate won.
func (c *Cell) TrySet(candidate mgl64.Vec3) (mgl64.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return c.value, false
	}
	c.value = candidate
	c.set = true
	return c.value, true
}
