package field

import (
	"github.com/notargets/amrmg/grid"
)

// Mask marks the valid cells of a layout that take part in a reduction
type Mask struct {
	Layout *grid.Layout
	bits   [][]bool
}

// NewMask returns a mask over layout with every cell set to v
func NewMask(layout *grid.Layout, v bool) *Mask {
	m := &Mask{Layout: layout, bits: make([][]bool, len(layout.Boxes))}
	for p, b := range layout.Boxes {
		m.bits[p] = make([]bool, b.NumPts())
		if v {
			for k := range m.bits[p] {
				m.bits[p][k] = true
			}
		}
	}
	return m
}

// NewFineMask returns the mask of cells of crse not covered by the
// coarsened cells of fine.
func NewFineMask(crse, fine *grid.Layout, ratio int) *Mask {
	m := NewMask(crse, true)
	for _, fb := range fine.Boxes {
		cb := fb.Coarsen(ratio)
		for p, b := range crse.Boxes {
			r := b.Intersect(cb)
			if !r.Ok() {
				continue
			}
			for j := r.Lo[1]; j <= r.Hi[1]; j++ {
				for i := r.Lo[0]; i <= r.Hi[0]; i++ {
					m.set(p, i, j, false)
				}
			}
		}
	}
	return m
}

func (m *Mask) index(p, i, j int) int {
	b := m.Layout.Boxes[p]
	return (i - b.Lo[0]) + (j-b.Lo[1])*b.Length(0)
}

func (m *Mask) at(p, i, j int) bool     { return m.bits[p][m.index(p, i, j)] }
func (m *Mask) set(p, i, j int, v bool) { m.bits[p][m.index(p, i, j)] = v }

// At reports whether cell (i,j) of patch p is included
func (m *Mask) At(p, i, j int) bool { return m.at(p, i, j) }

// Count returns the number of included cells
func (m *Mask) Count() int {
	n := 0
	for _, bits := range m.bits {
		for _, b := range bits {
			if b {
				n++
			}
		}
	}
	return n
}
