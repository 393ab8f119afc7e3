// Package poisson implements the cell-centred operator
//
//	L(u) = alpha*u - beta*lap(u)
//
// on a 2-D AMR hierarchy with a 5-point stencil. It is the reference
// operator the multigrid engine is tested against.
package poisson

import (
	"fmt"
	"math/bits"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
)

// BCType is a domain boundary condition
type BCType uint8

const (
	Dirichlet BCType = iota
	Neumann          // zero normal gradient
)

func (t BCType) String() string {
	if t == Neumann {
		return "neumann"
	}
	return "dirichlet"
}

// Options configures an Operator
type Options struct {
	Alpha float64
	Beta  float64

	// Domain boundary conditions per direction on the low and high sides
	BCLo, BCHi [grid.Dims]BCType
	// Value returns the Dirichlet value at a boundary face centre; nil
	// means homogeneous.
	Value func(x, y float64) float64

	// MaxCoarsening caps the MG levels below each AMR level; 0 is no cap
	MaxCoarsening int
	// Bottom is reported as the operator's preferred bottom solver
	Bottom linop.BottomSolver

	Field field.Config
}

// DefaultOptions returns -lap(u) with homogeneous Dirichlet boundaries
func DefaultOptions() Options {
	return Options{Beta: 1, Field: field.DefaultConfig()}
}

// Operator is a Poisson-type operator on an AMR hierarchy
type Operator struct {
	opts    Options
	ratios  []int
	levels  [][]*level      // [amrlev][mglev]
	crseAMR []*grid.Layout // fine layouts coarsened to the next coarser AMR level
}

var (
	_ linop.Operator         = (*Operator)(nil)
	_ linop.StencilAssembler = (*Operator)(nil)
	_ linop.NSolveProvider   = (*Operator)(nil)
	_ linop.DefaultBottom    = (*Operator)(nil)
)

type level struct {
	amrlev, mglev int
	layout        *grid.Layout
	geom          grid.Geometry
	// cfRatio is the coarse/fine ratio seen by this MG level, 0 on AMR level 0
	cfRatio int

	bnd  [][]ghost   // per patch: ghosts set by boundary conditions
	bsum [][]float64 // per patch, per valid cell: sum of ghost coefficients b
}

type ghostKind uint8

const (
	ghostDomain ghostKind = iota
	ghostCoarseFine
)

// ghost is a ghost cell whose value is a + b*u(ii,jj), with a depending on
// the boundary data in use.
type ghost struct {
	kind   ghostKind
	i, j   int
	ii, jj int
	b      float64

	dirichlet bool
	fx, fy    float64 // boundary face centre

	cp, ci, cj       int // coarse cell containing (i,j)
	cpIn, ciIn, cjIn int // coarse cell containing (ii,jj)
}

// New builds the operator on layouts (coarsest first) with geom describing
// AMR level 0 and ratios[a] the refinement between levels a and a+1.
func New(geom grid.Geometry, layouts []*grid.Layout, ratios []int, opts Options) (*Operator, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("poisson: no AMR levels")
	}
	if len(ratios) != len(layouts)-1 {
		return nil, fmt.Errorf("poisson: %d ratios for %d levels", len(ratios), len(layouts))
	}
	if opts.Beta <= 0 || opts.Alpha < 0 {
		return nil, fmt.Errorf("poisson: need alpha >= 0 and beta > 0, got %g, %g", opts.Alpha, opts.Beta)
	}
	if layouts[0].Domain != geom.Domain {
		return nil, fmt.Errorf("poisson: level 0 domain %v != geometry domain %v", layouts[0].Domain, geom.Domain)
	}
	if layouts[0].NumPts() != geom.Domain.NumPts() {
		return nil, fmt.Errorf("poisson: level 0 does not cover the domain")
	}

	op := &Operator{
		opts:    opts,
		ratios:  append([]int(nil), ratios...),
		levels:  make([][]*level, len(layouts)),
		crseAMR: make([]*grid.Layout, len(layouts)),
	}
	g := geom
	for a, l := range layouts {
		maxm := opts.MaxCoarsening
		if a > 0 {
			r := ratios[a-1]
			if r < 2 || r&(r-1) != 0 {
				return nil, fmt.Errorf("poisson: ratio %d between levels %d and %d is not a power of 2", r, a-1, a)
			}
			if l.Domain != layouts[a-1].Domain.Refine(r) {
				return nil, fmt.Errorf("poisson: level %d domain %v is not level %d refined by %d", a, l.Domain, a-1, r)
			}
			if !l.CoarsenableBy(r, 1) {
				return nil, fmt.Errorf("poisson: level %d boxes not aligned to ratio %d", a, r)
			}
			g = g.Refine(r)
			op.crseAMR[a] = l.Coarsen(r)
			logr := bits.TrailingZeros(uint(r))
			if maxm == 0 || maxm > logr {
				maxm = logr
			}
		}

		m := 0
		for {
			lev := &level{amrlev: a, mglev: m, layout: l, geom: g}
			if a > 0 {
				lev.cfRatio = max(ratios[a-1]>>m, 1)
			}
			if err := op.classify(lev, layouts); err != nil {
				return nil, err
			}
			op.levels[a] = append(op.levels[a], lev)
			if (maxm > 0 && m >= maxm) || !l.CoarsenableBy(2, 2) {
				break
			}
			l = l.Coarsen(2)
			g = g.Coarsen(2)
			m++
		}
		g = op.levels[a][0].geom
	}
	return op, nil
}

// classify records every valid-cell face neighbour that no patch of the
// level holds, either outside the domain or at a coarse/fine interface.
func (op *Operator) classify(lev *level, layouts []*grid.Layout) error {
	dom := lev.layout.Domain
	np := len(lev.layout.Boxes)
	lev.bnd = make([][]ghost, np)
	lev.bsum = make([][]float64, np)
	for p, b := range lev.layout.Boxes {
		lev.bsum[p] = make([]float64, b.NumPts())
		nx := b.Length(0)
		for d := 0; d < grid.Dims; d++ {
			for _, side := range [2]int{-1, 1} {
				face := b
				if side < 0 {
					face.Hi[d] = b.Lo[d]
				} else {
					face.Lo[d] = b.Hi[d]
				}
				for jj := face.Lo[1]; jj <= face.Hi[1]; jj++ {
					for ii := face.Lo[0]; ii <= face.Hi[0]; ii++ {
						i, j := ii, jj
						if d == 0 {
							i += side
						} else {
							j += side
						}
						if lev.layout.Find(i, j) >= 0 {
							continue
						}
						g := ghost{i: i, j: j, ii: ii, jj: jj}
						if !dom.Contains(i, j) {
							g.kind = ghostDomain
							bc := op.opts.BCLo[d]
							if side > 0 {
								bc = op.opts.BCHi[d]
							}
							g.dirichlet = bc == Dirichlet
							g.b = 1
							if g.dirichlet {
								g.b = -1
							}
							g.fx, g.fy = lev.geom.FacePoint(d, max(i, ii), max(j, jj))
						} else {
							if lev.amrlev == 0 {
								return fmt.Errorf("poisson: level 0 patch %d has uncovered neighbour (%d,%d)", p, i, j)
							}
							g.kind = ghostCoarseFine
							r := float64(lev.cfRatio)
							g.b = (r - 1) / (r + 1)
							if lev.mglev == 0 {
								crse, cr := layouts[lev.amrlev-1], op.ratios[lev.amrlev-1]
								g.ci, g.cj = down(i, cr), down(j, cr)
								g.ciIn, g.cjIn = down(ii, cr), down(jj, cr)
								g.cp = crse.Find(g.ci, g.cj)
								g.cpIn = crse.Find(g.ciIn, g.cjIn)
								if g.cp < 0 || g.cpIn < 0 {
									return fmt.Errorf("poisson: level %d is not properly nested in level %d near (%d,%d)",
										lev.amrlev, lev.amrlev-1, i, j)
								}
							}
						}
						lev.bnd[p] = append(lev.bnd[p], g)
						lev.bsum[p][(ii-b.Lo[0])+(jj-b.Lo[1])*nx] += g.b
					}
				}
			}
		}
	}
	return nil
}

func down(i, r int) int {
	if i >= 0 {
		return i / r
	}
	return -((-i + r - 1) / r)
}

func (op *Operator) lev(amrlev, mglev int) *level { return op.levels[amrlev][mglev] }

func (op *Operator) NumAMRLevels() int          { return len(op.levels) }
func (op *Operator) NumMGLevels(amrlev int) int { return len(op.levels[amrlev]) }
func (op *Operator) NumGhost() int              { return 1 }

func (op *Operator) RefRatio(amrlev int) int {
	if amrlev < 0 || amrlev >= len(op.ratios) {
		return 0
	}
	return op.ratios[amrlev]
}

func (op *Operator) Layout(amrlev, mglev int) *grid.Layout { return op.lev(amrlev, mglev).layout }

func (op *Operator) Geometry(amrlev, mglev int) grid.Geometry { return op.lev(amrlev, mglev).geom }

func (op *Operator) Make(amrlev, mglev, ng int) *field.MultiFab {
	return field.NewMultiFabWith(op.lev(amrlev, mglev).layout, grid.CellCentered, ng, op.opts.Field)
}

func (op *Operator) MakeCoarseAMR(amrlev, ng int) *field.MultiFab {
	return field.NewMultiFabWith(op.crseAMR[amrlev], grid.CellCentered, ng, op.opts.Field)
}

// IsSingular is true on AMR level 0 when alpha is zero and every domain
// side is Neumann.
func (op *Operator) IsSingular(amrlev int) bool {
	if amrlev != 0 || op.opts.Alpha != 0 {
		return false
	}
	for d := 0; d < grid.Dims; d++ {
		if op.opts.BCLo[d] != Neumann || op.opts.BCHi[d] != Neumann {
			return false
		}
	}
	return true
}

func (op *Operator) IsBottomSingular() bool { return op.IsSingular(0) }

func (op *Operator) DefaultBottomSolver() linop.BottomSolver { return op.opts.Bottom }

// NSolveOperator builds the same operator with homogeneous boundaries on
// layout, which must tile the domain of the bottom level.
func (op *Operator) NSolveOperator(layout *grid.Layout) (linop.Operator, error) {
	bot := op.levels[0][len(op.levels[0])-1]
	if layout.Domain != bot.geom.Domain {
		return nil, fmt.Errorf("poisson: nsolve domain %v != bottom domain %v", layout.Domain, bot.geom.Domain)
	}
	opts := op.opts
	opts.Value = nil
	return New(bot.geom, []*grid.Layout{layout}, nil, opts)
}
