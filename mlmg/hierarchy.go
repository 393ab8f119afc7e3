package mlmg

import (
	"fmt"

	"github.com/notargets/amrmg/field"
)

// SolutionMode records whether an AMR level works on the caller's field
type SolutionMode uint8

const (
	// Aliased levels update the caller's solution field in place
	Aliased SolutionMode = iota
	// Owned levels work on a copy that is copied back when Solve returns
	Owned
)

func (m SolutionMode) String() string {
	if m == Owned {
		return "owned"
	}
	return "aliased"
}

// levelState is the per-solve data of one AMR level. Slices are indexed by
// MG level.
type levelState struct {
	sol, rhs *field.MultiFab
	mode     SolutionMode
	user     *field.MultiFab // caller's solution field

	res, cor, corHold, rescor []*field.MultiFab
	// fineMask excludes cells covered by the next finer level; nil on the
	// finest level.
	fineMask *field.Mask
}

// prepareForSolve validates the caller's fields and allocates the level
// hierarchy.
func (s *Solver) prepareForSolve(sol, rhs []*field.MultiFab) error {
	op := s.op
	n := op.NumAMRLevels()
	if len(sol) != n || len(rhs) != n {
		return fmt.Errorf("%w: %d solution and %d rhs fields for %d AMR levels",
			ErrLayoutMismatch, len(sol), len(rhs), n)
	}
	ng := op.NumGhost()

	s.levels = make([]*levelState, n)
	for a := 0; a < n; a++ {
		layout := op.Layout(a, 0)
		for _, f := range []*field.MultiFab{sol[a], rhs[a]} {
			if f == nil || !f.Layout.SameAs(layout) {
				return &LevelError{AMRLevel: a, Op: "prepare", Err: ErrLayoutMismatch}
			}
		}

		lev := &levelState{user: sol[a]}
		if sol[a].NGhost == ng {
			lev.mode, lev.sol = Aliased, sol[a]
		} else {
			lev.mode, lev.sol = Owned, op.Make(a, 0, ng)
			field.Copy(lev.sol, sol[a], 0)
		}
		lev.rhs = op.Make(a, 0, 0)
		field.Copy(lev.rhs, rhs[a], 0)

		nmg := op.NumMGLevels(a)
		for _, v := range []*[]*field.MultiFab{&lev.res, &lev.cor, &lev.corHold, &lev.rescor} {
			*v = make([]*field.MultiFab, nmg)
		}
		for m := 0; m < nmg; m++ {
			lev.res[m] = op.Make(a, m, 0)
			lev.rescor[m] = op.Make(a, m, 0)
			lev.cor[m] = op.Make(a, m, ng)
			lev.corHold[m] = op.Make(a, m, ng)
		}
		if a < n-1 {
			lev.fineMask = field.NewFineMask(layout, op.Layout(a+1, 0), op.RefRatio(a))
		}
		s.levels[a] = lev
	}

	// covered coarse cells start from the fine data
	for fa := n - 1; fa > 0; fa-- {
		op.AvgDownResAMR(fa-1, s.levels[fa-1].rhs, s.levels[fa].rhs)
	}
	op.AverageDownAndSync(s.solFields())

	if op.IsSingular(0) {
		s.makeSolvable()
	}
	return nil
}

// makeSolvable removes the level-0 mean of the rhs from every AMR level
func (s *Solver) makeSolvable() {
	rhs0 := s.levels[0].rhs
	offset := rhs0.Sum(false) / float64(rhs0.NumPts())
	if s.cfg.Verbose >= 3 {
		s.log.Debug("mlmg: removing rhs mean for singular operator")
	}
	for _, lev := range s.levels {
		lev.rhs.Plus(-offset)
	}
}

// makeSolvableField removes the mean of mf in place
func makeSolvableField(mf *field.MultiFab) {
	mf.Plus(-mf.Sum(false) / float64(mf.NumPts()))
}

// finishSolve copies owned solutions back to the caller and drops the
// per-solve state.
func (s *Solver) finishSolve() {
	for _, lev := range s.levels {
		if lev.mode == Owned {
			field.Copy(lev.user, lev.sol, min(lev.user.NGhost, lev.sol.NGhost))
		}
	}
	if s.bottom != nil {
		s.bottom.release()
	}
	s.levels = nil
}

func (s *Solver) finest() int { return len(s.levels) - 1 }

// solFields returns the working solution of every level
func (s *Solver) solFields() []*field.MultiFab {
	out := make([]*field.MultiFab, len(s.levels))
	for a, lev := range s.levels {
		out[a] = lev.sol
	}
	return out
}
