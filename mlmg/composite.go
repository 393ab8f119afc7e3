package mlmg

import (
	"math"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/linop"
)

// crseSol is the coarse/fine boundary data of AMR level a
func (s *Solver) crseSol(a int) *field.MultiFab {
	if a == 0 {
		return nil
	}
	return s.levels[a-1].sol
}

// computeMLResidual sets res = rhs - L(sol) on AMR levels amrlevmax down
// to 0, refluxing each coarse level against its finer neighbour.
func (s *Solver) computeMLResidual(amrlevmax int) {
	nf := s.finest()
	for a := amrlevmax; a >= 0; a-- {
		lev := s.levels[a]
		s.op.SolutionResidual(a, lev.res[0], lev.sol, lev.rhs, s.crseSol(a))
		if a < nf {
			s.op.Reflux(a, lev.res[0], lev.sol, s.levels[a+1].sol)
		}
	}
}

// computeResidual sets the residual of AMR level a alone
func (s *Solver) computeResidual(a int) {
	lev := s.levels[a]
	s.op.SolutionResidual(a, lev.res[0], lev.sol, lev.rhs, s.crseSol(a))
}

// computeResWithCrseSolFineCor sets the residual of AMR level c from its
// solution and updates the residual of f = c+1 for the correction just
// applied there.
func (s *Solver) computeResWithCrseSolFineCor(c, f int) {
	op := s.op
	cl, fl := s.levels[c], s.levels[f]

	op.SolutionResidual(c, cl.res[0], cl.sol, cl.rhs, s.crseSol(c))

	op.CorrectionResidual(f, 0, fl.rescor[0], fl.cor[0], fl.res[0], linop.Homogeneous, nil)
	field.Copy(fl.res[0], fl.rescor[0], 0)

	op.Reflux(c, cl.res[0], cl.sol, fl.sol)
	op.AvgDownResAMR(c, cl.res[0], fl.res[0])
}

// computeResWithCrseCorFineCor updates the residual of AMR level f for its
// correction, with coarse/fine data from the correction of f-1.
func (s *Solver) computeResWithCrseCorFineCor(f int) {
	fl := s.levels[f]
	s.op.CorrectionResidual(f, 0, fl.rescor[0], fl.cor[0], fl.res[0], linop.Inhomogeneous, s.levels[f-1].cor[0])
	field.Copy(fl.res[0], fl.rescor[0], 0)
}

// interpCorrection sets the correction of AMR level a from a-1
func (s *Solver) interpCorrection(a int) {
	crse := s.op.MakeCoarseAMR(a, 0)
	field.ParallelCopy(crse, s.levels[a-1].cor[0])
	s.op.InterpolationAMR(a, s.levels[a].cor[0], crse)
}

// interpCorrectionMG sets cor[m] from cor[m+1] on AMR level a
func (s *Solver) interpCorrectionMG(a, m int) {
	lev := s.levels[a]
	s.op.InterpAssign(a, m, lev.cor[m], lev.cor[m+1])
}

// addInterpCorrection adds the prolongation of cor[m+1] into cor[m]
func (s *Solver) addInterpCorrection(a, m int) {
	lev := s.levels[a]
	s.op.Interpolate(a, m, lev.cor[m], lev.cor[m+1])
}

// computeResOfCorrection sets rescor = res - L(cor) with homogeneous data
func (s *Solver) computeResOfCorrection(a, m int) {
	lev := s.levels[a]
	s.op.CorrectionResidual(a, m, lev.rescor[m], lev.cor[m], lev.res[m], linop.Homogeneous, nil)
}

// resNormInf is the residual norm of AMR level a over cells not covered
// by a finer level.
func (s *Solver) resNormInf(a int) float64 {
	lev := s.levels[a]
	return lev.res[0].NormInf(lev.fineMask, false)
}

func (s *Solver) mlResNormInf(amrlevmax int) float64 {
	r := 0.0
	for a := 0; a <= amrlevmax; a++ {
		r = math.Max(r, s.resNormInf(a))
	}
	return r
}

func (s *Solver) mlRhsNormInf() float64 {
	r := 0.0
	for _, lev := range s.levels {
		r = math.Max(r, lev.rhs.NormInf(lev.fineMask, false))
	}
	return r
}
