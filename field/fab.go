package field

import (
	"math"

	"github.com/notargets/amrmg/grid"
)

// FAB is a dense array over one patch: its valid box grown by NGhost
// cells, stored x-fastest.
type FAB struct {
	Box    grid.Box // valid region
	NGhost int
	Data   []float64

	stride int
	lo     [grid.Dims]int // lower corner of the grown box
}

// NewFAB allocates a zeroed FAB over box with ng ghost cells
func NewFAB(box grid.Box, ng int) *FAB {
	g := box.Grow(ng)
	nx, ny := g.Size()
	return &FAB{
		Box:    box,
		NGhost: ng,
		Data:   make([]float64, nx*ny),
		stride: nx,
		lo:     g.Lo,
	}
}

// GrownBox returns the valid box grown by the ghost width
func (f *FAB) GrownBox() grid.Box { return f.Box.Grow(f.NGhost) }

// Index returns the offset of cell (i,j) in Data
func (f *FAB) Index(i, j int) int {
	return (i - f.lo[0]) + (j-f.lo[1])*f.stride
}

// Stride returns the distance in Data between vertically adjacent cells
func (f *FAB) Stride() int { return f.stride }

func (f *FAB) At(i, j int) float64     { return f.Data[f.Index(i, j)] }
func (f *FAB) Set(i, j int, v float64) { f.Data[f.Index(i, j)] = v }

// Row returns the contiguous slice of row j from i0 to i1 inclusive
func (f *FAB) Row(j, i0, i1 int) []float64 {
	k := f.Index(i0, j)
	return f.Data[k : k+i1-i0+1]
}

// Fill sets every value, ghosts included
func (f *FAB) Fill(v float64) {
	for k := range f.Data {
		f.Data[k] = v
	}
}

// ContainsNaN reports whether any value in region is NaN
func (f *FAB) ContainsNaN(region grid.Box) bool {
	return f.any(region, math.IsNaN)
}

// ContainsInf reports whether any value in region is ±Inf
func (f *FAB) ContainsInf(region grid.Box) bool {
	return f.any(region, func(v float64) bool { return math.IsInf(v, 0) })
}

func (f *FAB) any(region grid.Box, pred func(float64) bool) bool {
	r := region.Intersect(f.GrownBox())
	if !r.Ok() {
		return false
	}
	for j := r.Lo[1]; j <= r.Hi[1]; j++ {
		for _, v := range f.Row(j, r.Lo[0], r.Hi[0]) {
			if pred(v) {
				return true
			}
		}
	}
	return false
}
