package grid

import (
	"fmt"
)

// Dims is the spatial dimension of every box in this package
const Dims = 2

// IndexType identifies where in a cell the data of a box lives
type IndexType uint8

const (
	CellCentered IndexType = iota
	FaceX                  // x-faces: one extra point in x
	FaceY                  // y-faces: one extra point in y
)

func (t IndexType) String() string {
	switch t {
	case CellCentered:
		return "cell"
	case FaceX:
		return "face-x"
	case FaceY:
		return "face-y"
	default:
		return fmt.Sprintf("IndexType(%d)", uint8(t))
	}
}

// Box is an inclusive rectangle of cell indices [Lo, Hi]
type Box struct {
	Lo [Dims]int
	Hi [Dims]int
}

// NewBox returns the box with the given inclusive corners
func NewBox(ilo, jlo, ihi, jhi int) Box {
	return Box{Lo: [Dims]int{ilo, jlo}, Hi: [Dims]int{ihi, jhi}}
}

// Ok reports whether the box has at least one cell
func (b Box) Ok() bool {
	return b.Hi[0] >= b.Lo[0] && b.Hi[1] >= b.Lo[1]
}

// Length returns the number of cells in direction dir
func (b Box) Length(dir int) int {
	if !b.Ok() {
		return 0
	}
	return b.Hi[dir] - b.Lo[dir] + 1
}

// Size returns the number of cells in each direction
func (b Box) Size() (nx, ny int) {
	return b.Length(0), b.Length(1)
}

// NumPts returns the number of cells in the box
func (b Box) NumPts() int {
	return b.Length(0) * b.Length(1)
}

// Contains reports whether cell (i,j) is inside the box
func (b Box) Contains(i, j int) bool {
	return i >= b.Lo[0] && i <= b.Hi[0] && j >= b.Lo[1] && j <= b.Hi[1]
}

// ContainsBox reports whether o lies entirely inside b
func (b Box) ContainsBox(o Box) bool {
	return o.Ok() && b.Contains(o.Lo[0], o.Lo[1]) && b.Contains(o.Hi[0], o.Hi[1])
}

// Intersect returns the overlap of two boxes; the result may not be Ok
func (b Box) Intersect(o Box) Box {
	var r Box
	for d := 0; d < Dims; d++ {
		r.Lo[d] = max(b.Lo[d], o.Lo[d])
		r.Hi[d] = min(b.Hi[d], o.Hi[d])
	}
	return r
}

// Intersects reports whether the boxes share at least one cell
func (b Box) Intersects(o Box) bool {
	return b.Intersect(o).Ok()
}

// Grow returns the box extended by n cells on every side
func (b Box) Grow(n int) Box {
	for d := 0; d < Dims; d++ {
		b.Lo[d] -= n
		b.Hi[d] += n
	}
	return b
}

// GrowDir extends the box by n cells on both sides of direction dir
func (b Box) GrowDir(dir, n int) Box {
	b.Lo[dir] -= n
	b.Hi[dir] += n
	return b
}

// Shift translates the box by (di, dj)
func (b Box) Shift(di, dj int) Box {
	b.Lo[0] += di
	b.Hi[0] += di
	b.Lo[1] += dj
	b.Hi[1] += dj
	return b
}

// Coarsen returns the box of coarse cells covering b at ratio r
func (b Box) Coarsen(r int) Box {
	for d := 0; d < Dims; d++ {
		b.Lo[d] = floorDiv(b.Lo[d], r)
		b.Hi[d] = floorDiv(b.Hi[d], r)
	}
	return b
}

// Refine returns the box of fine cells covered by b at ratio r
func (b Box) Refine(r int) Box {
	for d := 0; d < Dims; d++ {
		b.Lo[d] *= r
		b.Hi[d] = (b.Hi[d]+1)*r - 1
	}
	return b
}

// CoarsenableBy reports whether b coarsens exactly by r and each coarse
// length is at least minWidth cells.
func (b Box) CoarsenableBy(r, minWidth int) bool {
	if r < 1 || !b.Ok() {
		return false
	}
	c := b.Coarsen(r)
	if c.Refine(r) != b {
		return false
	}
	return c.Length(0) >= minWidth && c.Length(1) >= minWidth
}

// SurroundingFaces converts a cell box into the box of its faces normal to dir
func (b Box) SurroundingFaces(dir int) Box {
	b.Hi[dir]++
	return b
}

// Chop splits b into tiles no longer than maxSize in either direction,
// ordered x-fastest.
func (b Box) Chop(maxSize int) []Box {
	if maxSize <= 0 {
		return []Box{b}
	}
	var out []Box
	for j := b.Lo[1]; j <= b.Hi[1]; j += maxSize {
		for i := b.Lo[0]; i <= b.Hi[0]; i += maxSize {
			out = append(out, NewBox(i, j, min(i+maxSize-1, b.Hi[0]), min(j+maxSize-1, b.Hi[1])))
		}
	}
	return out
}

func (b Box) String() string {
	return fmt.Sprintf("((%d,%d) (%d,%d))", b.Lo[0], b.Lo[1], b.Hi[0], b.Hi[1])
}

func floorDiv(a, r int) int {
	if a >= 0 {
		return a / r
	}
	return -((-a + r - 1) / r)
}
