package poisson

import (
	"fmt"

	"github.com/notargets/amrmg/linop"
)

// AssembleBottom emits the homogeneous 5-point matrix of the bottom level.
// Boundary ghosts fold into the diagonal the same way relaxation sees them.
func (op *Operator) AssembleBottom(num *linop.Numbering, add func(row, col int, v float64)) error {
	lev := op.levels[0][len(op.levels[0])-1]
	if !num.Layout.SameAs(lev.layout) {
		return fmt.Errorf("poisson: numbering layout does not match the bottom level")
	}
	diag, off := op.coefs(lev)
	nbrs := [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for p, b := range lev.layout.Boxes {
		bs := lev.bsum[p]
		nx := b.Length(0)
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				row := num.Index(p, i, j)
				add(row, row, diag-off*bs[(i-b.Lo[0])+(j-b.Lo[1])*nx])
				for _, d := range nbrs {
					if col := num.Lookup(i+d[0], j+d[1]); col >= 0 {
						add(row, col, -off)
					}
				}
			}
		}
	}
	return nil
}
