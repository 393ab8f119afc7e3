package grid

import (
	"fmt"
)

// Layout is an ordered set of non-overlapping patches covering part of a
// domain, the block-structured analogue of a partition layout.
type Layout struct {
	Domain Box
	Boxes  []Box
	// Owners maps each patch to a worker slot; it only affects patch
	// ordering in parallel loops, never results.
	Owners []int

	// MaxPatchCells is max(NumPts) across all patches
	MaxPatchCells int
}

// NewLayout builds a layout from boxes inside domain and validates it
func NewLayout(domain Box, boxes []Box) (*Layout, error) {
	l := &Layout{
		Domain: domain,
		Boxes:  append([]Box(nil), boxes...),
		Owners: make([]int, len(boxes)),
	}
	l.MaxPatchCells = l.calculateMaxPatchCells()
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	return l, nil
}

// MustLayout is NewLayout that panics on error, for fixed test geometries
func MustLayout(domain Box, boxes []Box) *Layout {
	l, err := NewLayout(domain, boxes)
	if err != nil {
		panic(err)
	}
	return l
}

// NumPatches returns the number of boxes
func (l *Layout) NumPatches() int { return len(l.Boxes) }

// NumPts returns the total number of cells over all patches
func (l *Layout) NumPts() int {
	n := 0
	for _, b := range l.Boxes {
		n += b.NumPts()
	}
	return n
}

// Validate checks patch consistency
func (l *Layout) Validate() error {
	if len(l.Boxes) == 0 {
		return fmt.Errorf("layout has no patches")
	}
	if !l.Domain.Ok() {
		return fmt.Errorf("domain %v is empty", l.Domain)
	}
	if len(l.Owners) != len(l.Boxes) {
		return fmt.Errorf("owners length %d != patch count %d", len(l.Owners), len(l.Boxes))
	}
	for p, b := range l.Boxes {
		if !b.Ok() {
			return fmt.Errorf("patch %d: empty box %v", p, b)
		}
		if !l.Domain.ContainsBox(b) {
			return fmt.Errorf("patch %d: box %v outside domain %v", p, b, l.Domain)
		}
		for q := p + 1; q < len(l.Boxes); q++ {
			if b.Intersects(l.Boxes[q]) {
				return fmt.Errorf("patches %d and %d overlap: %v, %v", p, q, b, l.Boxes[q])
			}
		}
	}
	if actual := l.calculateMaxPatchCells(); actual != l.MaxPatchCells {
		return fmt.Errorf("computed MaxPatchCells %d != stored %d", actual, l.MaxPatchCells)
	}
	return nil
}

func (l *Layout) calculateMaxPatchCells() int {
	m := 0
	for _, b := range l.Boxes {
		if n := b.NumPts(); n > m {
			m = n
		}
	}
	return m
}

// Find returns the patch containing cell (i,j), or -1
func (l *Layout) Find(i, j int) int {
	for p, b := range l.Boxes {
		if b.Contains(i, j) {
			return p
		}
	}
	return -1
}

// Covers reports whether any patch contains cell (i,j)
func (l *Layout) Covers(i, j int) bool {
	return l.Find(i, j) >= 0
}

// SameAs reports whether two layouts have identical domains and boxes
func (l *Layout) SameAs(o *Layout) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil || l.Domain != o.Domain || len(l.Boxes) != len(o.Boxes) {
		return false
	}
	for i := range l.Boxes {
		if l.Boxes[i] != o.Boxes[i] {
			return false
		}
	}
	return true
}

// CoarsenableBy reports whether every patch and the domain coarsen by r
// and keep at least minWidth cells per direction.
func (l *Layout) CoarsenableBy(r, minWidth int) bool {
	if !l.Domain.CoarsenableBy(r, minWidth) {
		return false
	}
	for _, b := range l.Boxes {
		if !b.CoarsenableBy(r, minWidth) {
			return false
		}
	}
	return true
}

// Coarsen returns the layout with every box coarsened by r, keeping owners
func (l *Layout) Coarsen(r int) *Layout {
	c := &Layout{
		Domain: l.Domain.Coarsen(r),
		Boxes:  make([]Box, len(l.Boxes)),
		Owners: append([]int(nil), l.Owners...),
	}
	for i, b := range l.Boxes {
		c.Boxes[i] = b.Coarsen(r)
	}
	c.MaxPatchCells = c.calculateMaxPatchCells()
	return c
}

// Refine returns the layout with every box refined by r
func (l *Layout) Refine(r int) *Layout {
	f := &Layout{
		Domain: l.Domain.Refine(r),
		Boxes:  make([]Box, len(l.Boxes)),
		Owners: append([]int(nil), l.Owners...),
	}
	for i, b := range l.Boxes {
		f.Boxes[i] = b.Refine(r)
	}
	f.MaxPatchCells = f.calculateMaxPatchCells()
	return f
}

// Faces returns the layout of face boxes normal to dir
func (l *Layout) Faces(dir int) *Layout {
	f := &Layout{
		Domain: l.Domain.SurroundingFaces(dir),
		Boxes:  make([]Box, len(l.Boxes)),
		Owners: append([]int(nil), l.Owners...),
	}
	for i, b := range l.Boxes {
		f.Boxes[i] = b.SurroundingFaces(dir)
	}
	f.MaxPatchCells = f.calculateMaxPatchCells()
	return f
}
