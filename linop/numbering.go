package linop

import (
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
)

// Numbering maps the valid cells of a layout onto 0..N-1: patches in
// layout order, cells x-fastest within a patch.
type Numbering struct {
	Layout *grid.Layout
	base   []int
	n      int
}

func NewNumbering(layout *grid.Layout) *Numbering {
	num := &Numbering{Layout: layout, base: make([]int, len(layout.Boxes))}
	for p, b := range layout.Boxes {
		num.base[p] = num.n
		num.n += b.NumPts()
	}
	return num
}

// Len returns the number of cells
func (num *Numbering) Len() int { return num.n }

// Index returns the ordinal of cell (i,j) of patch p
func (num *Numbering) Index(p, i, j int) int {
	b := num.Layout.Boxes[p]
	return num.base[p] + (i - b.Lo[0]) + (j-b.Lo[1])*b.Length(0)
}

// Lookup returns the ordinal of cell (i,j), or -1 when no patch holds it
func (num *Numbering) Lookup(i, j int) int {
	p := num.Layout.Find(i, j)
	if p < 0 {
		return -1
	}
	return num.Index(p, i, j)
}

// Gather copies the valid cells of mf into dst in ordinal order
func (num *Numbering) Gather(dst []float64, mf *field.MultiFab) {
	for p, fab := range mf.Patches {
		b := fab.Box
		k := num.base[p]
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			k += copy(dst[k:], fab.Row(j, b.Lo[0], b.Hi[0]))
		}
	}
}

// Scatter copies src into the valid cells of mf
func (num *Numbering) Scatter(mf *field.MultiFab, src []float64) {
	for p, fab := range mf.Patches {
		b := fab.Box
		k := num.base[p]
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			k += copy(fab.Row(j, b.Lo[0], b.Hi[0]), src[k:])
		}
	}
}
