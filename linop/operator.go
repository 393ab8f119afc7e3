// Package linop declares what the multigrid engine needs from a discretized
// linear operator. Capabilities beyond the core Operator are optional
// interfaces discovered by type assertion.
package linop

import (
	"fmt"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
)

// BCMode selects whether coarse/fine boundary data enters a residual
type BCMode uint8

const (
	Inhomogeneous BCMode = iota
	Homogeneous
)

func (m BCMode) String() string {
	if m == Homogeneous {
		return "homogeneous"
	}
	return "inhomogeneous"
}

// StateMode selects the domain boundary treatment. A Solution carries the
// physical boundary values; a Correction sees them as zero.
type StateMode uint8

const (
	Solution StateMode = iota
	Correction
)

// Operator is a discretized linear operator on an AMR hierarchy.
//
// AMR levels run 0 (coarsest) to NumAMRLevels()-1. Within AMR level a, MG
// levels run 0 (the AMR level's own resolution) to NumMGLevels(a)-1.
// Arguments named crse are data of AMR level a-1 used to build coarse/fine
// ghost values; they are ignored at a == 0 or mg > 0 and may be nil there.
type Operator interface {
	NumAMRLevels() int
	NumMGLevels(amrlev int) int
	// RefRatio is the refinement ratio between amrlev and amrlev+1
	RefRatio(amrlev int) int
	// NumGhost is the ghost width required on fields passed as inputs
	NumGhost() int
	Layout(amrlev, mglev int) *grid.Layout
	Geometry(amrlev, mglev int) grid.Geometry

	// Make allocates a zeroed cell-centred field on (amrlev, mglev)
	Make(amrlev, mglev, ng int) *field.MultiFab
	// MakeCoarseAMR allocates a field on the layout of amrlev coarsened to
	// the resolution of amrlev-1.
	MakeCoarseAMR(amrlev, ng int) *field.MultiFab

	// Apply sets out = L(in). The ghost cells of in are filled first.
	Apply(amrlev, mglev int, out, in *field.MultiFab, bc BCMode, s StateMode, crse *field.MultiFab)
	// Smooth performs nsweeps relaxation sweeps on a correction equation
	// L(x) = b with homogeneous boundary data.
	Smooth(amrlev, mglev int, x, b *field.MultiFab, nsweeps int)
	// Precondition sets x to an approximate solution of L(x) = b starting
	// from zero. It must be symmetric when L is.
	Precondition(amrlev, mglev int, x, b *field.MultiFab)

	// SolutionResidual sets res = b - L(x) with physical boundary values
	// and coarse/fine data from crse.
	SolutionResidual(amrlev int, res, x, b, crse *field.MultiFab)
	// CorrectionResidual sets res = b - L(x) for a correction. With
	// Inhomogeneous bc, coarse/fine data comes from crse.
	CorrectionResidual(amrlev, mglev int, res, x, b *field.MultiFab, bc BCMode, crse *field.MultiFab)

	// Restrict averages fine (at cmglev-1) onto crse (at cmglev)
	Restrict(amrlev, cmglev int, crse, fine *field.MultiFab)
	// Interpolate adds the prolongation of crse (fmglev+1) into fine (fmglev)
	Interpolate(amrlev, fmglev int, fine, crse *field.MultiFab)
	// InterpAssign sets fine to the prolongation of crse
	InterpAssign(amrlev, fmglev int, fine, crse *field.MultiFab)
	// InterpolationAMR sets fine (AMR level famrlev) from crse, which lives
	// on MakeCoarseAMR(famrlev) and has already been copied from famrlev-1.
	InterpolationAMR(famrlev int, fine, crse *field.MultiFab)

	// AvgDownResAMR averages the fine residual onto the covered cells of
	// the coarse residual of AMR level clev.
	AvgDownResAMR(clev int, cres, fres *field.MultiFab)
	// AvgDownResMG averages a residual from MG level cmglev-1 to cmglev on
	// AMR level 0, as used when the F-cycle restricts down all levels.
	AvgDownResMG(cmglev int, cres, fres *field.MultiFab)
	// Reflux replaces coarse fluxes at the coarse/fine interface of AMR
	// levels clev, clev+1 with averaged fine fluxes from fineSol.
	Reflux(clev int, cres, crseSol, fineSol *field.MultiFab)
	// AverageDownAndSync averages each fine solution onto the next coarser
	// level, finest first.
	AverageDownAndSync(sol []*field.MultiFab)

	// FillSolutionBC fills the ghost cells of x with physical boundary
	// values and coarse/fine data from crse.
	FillSolutionBC(amrlev int, x, crse *field.MultiFab)

	// IsSingular reports whether the operator at amrlev has a null space
	// (constant functions), which makes the system solvable only for
	// mean-free right-hand sides.
	IsSingular(amrlev int) bool
	IsBottomSingular() bool

	// Gradient sets the face gradients of the solution x of amrlev
	Gradient(amrlev int, grad [grid.Dims]*field.MultiFab, x, crse *field.MultiFab)
	// Flux sets the face fluxes -beta*grad(x) of amrlev
	Flux(amrlev int, flux [grid.Dims]*field.MultiFab, x, crse *field.MultiFab)
}

// StencilAssembler is implemented by operators able to assemble their
// bottom-level matrix for an external sparse solver.
type StencilAssembler interface {
	// AssembleBottom adds every entry of the homogeneous operator on the
	// coarsest MG level of AMR level 0, with rows and columns numbered by num.
	AssembleBottom(num *Numbering, add func(row, col int, v float64)) error
}

// NSolveProvider is implemented by operators able to re-pose their bottom
// level on a different patch layout for a nested solve.
type NSolveProvider interface {
	// NSolveOperator returns a single-AMR-level operator on layout, which
	// covers the domain of the coarsest MG level of AMR level 0.
	NSolveOperator(layout *grid.Layout) (Operator, error)
}

// DefaultBottom is implemented by operators preferring a bottom solver
type DefaultBottom interface {
	DefaultBottomSolver() BottomSolver
}

// EmbeddedBoundary is implemented by operators with cut-cell geometry
type EmbeddedBoundary interface {
	HasEmbeddedBoundary() bool
}

// BottomSolver names a bottom-solve strategy
type BottomSolver uint8

const (
	BottomDefault BottomSolver = iota
	BottomSmoother
	BottomBiCGStab
	BottomCG
	BottomCGBiCG // CG, falling back to BiCGStab
	BottomBiCGCG // BiCGStab, falling back to CG
	BottomHypre
	BottomPETSc
)

var bottomNames = [...]string{
	BottomDefault:  "default",
	BottomSmoother: "smoother",
	BottomBiCGStab: "bicgstab",
	BottomCG:       "cg",
	BottomCGBiCG:   "cgbicg",
	BottomBiCGCG:   "bicgcg",
	BottomHypre:    "hypre",
	BottomPETSc:    "petsc",
}

func (b BottomSolver) String() string {
	if int(b) < len(bottomNames) {
		return bottomNames[b]
	}
	return fmt.Sprintf("BottomSolver(%d)", uint8(b))
}

// ParseBottomSolver is the inverse of BottomSolver.String
func ParseBottomSolver(s string) (BottomSolver, error) {
	for k, name := range bottomNames {
		if name == s {
			return BottomSolver(k), nil
		}
	}
	return BottomDefault, fmt.Errorf("unknown bottom solver %q", s)
}
