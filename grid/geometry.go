package grid

// Geometry maps a cell-index domain onto physical space with square cells
type Geometry struct {
	Domain Box
	ProbLo [Dims]float64
	Dx     float64
}

// NewGeometry builds the geometry of domain over the physical extent
// [lo, lo+domainLength*dx] using the x length to set the cell size.
func NewGeometry(domain Box, probLo [Dims]float64, probLengthX float64) Geometry {
	return Geometry{
		Domain: domain,
		ProbLo: probLo,
		Dx:     probLengthX / float64(domain.Length(0)),
	}
}

// Coarsen returns the geometry r times coarser
func (g Geometry) Coarsen(r int) Geometry {
	return Geometry{Domain: g.Domain.Coarsen(r), ProbLo: g.ProbLo, Dx: g.Dx * float64(r)}
}

// Refine returns the geometry r times finer
func (g Geometry) Refine(r int) Geometry {
	return Geometry{Domain: g.Domain.Refine(r), ProbLo: g.ProbLo, Dx: g.Dx / float64(r)}
}

// CellCenter returns the physical centre of cell (i,j)
func (g Geometry) CellCenter(i, j int) (x, y float64) {
	x = g.ProbLo[0] + (float64(i-g.Domain.Lo[0])+0.5)*g.Dx
	y = g.ProbLo[1] + (float64(j-g.Domain.Lo[1])+0.5)*g.Dx
	return
}

// FacePoint returns the centre of the low face of cell (i,j) normal to dir
func (g Geometry) FacePoint(dir, i, j int) (x, y float64) {
	x, y = g.CellCenter(i, j)
	if dir == 0 {
		x -= 0.5 * g.Dx
	} else {
		y -= 0.5 * g.Dx
	}
	return
}
