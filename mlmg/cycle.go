package mlmg

import (
	"github.com/notargets/amrmg/field"
)

// oneIter performs one composite multigrid iteration: fine to coarse over
// the AMR levels, a V- or F-cycle on the coarsest, then coarse to fine.
func (s *Solver) oneIter(iter int) error {
	op := s.op
	nf := s.finest()
	ng := op.NumGhost()

	for a := nf; a > 0; a-- {
		if err := s.miniCycle(a); err != nil {
			return err
		}
		lev := s.levels[a]
		field.Add(lev.sol, lev.cor[0], 0)
		s.computeResWithCrseSolFineCor(a-1, a)
		if a != nf {
			// held for the ascent
			lev.cor[0], lev.corHold[0] = lev.corHold[0], lev.cor[0]
		}
	}

	lev0 := s.levels[0]
	if op.IsSingular(0) {
		makeSolvableField(lev0.res[0])
	}
	var err error
	if iter < s.cfg.MaxFmgIters {
		err = s.mgFcycle()
	} else {
		err = s.mgVcycle(0, 0)
	}
	if err != nil {
		return err
	}
	field.Add(lev0.sol, lev0.cor[0], 0)

	for a := 1; a <= nf; a++ {
		lev := s.levels[a]
		s.interpCorrection(a)
		field.Add(lev.sol, lev.cor[0], 0)
		if a != nf {
			field.Add(lev.corHold[0], lev.cor[0], ng)
		}
		s.computeResWithCrseCorFineCor(a)
		if err := s.miniCycle(a); err != nil {
			return err
		}
		field.Add(lev.sol, lev.cor[0], 0)
		if a != nf {
			field.Add(lev.cor[0], lev.corHold[0], ng)
		}
	}

	s.op.AverageDownAndSync(s.solFields())
	return nil
}

// miniCycle is the V-cycle of an AMR level above the coarsest
func (s *Solver) miniCycle(a int) error {
	return s.mgVcycle(a, 0)
}

// mgVcycle solves for cor[mtop] on AMR level a. Only AMR level 0 reaches
// the bottom solver; finer AMR levels smooth at their coarsest MG level.
func (s *Solver) mgVcycle(a, mtop int) error {
	op := s.op
	lev := s.levels[a]
	bot := len(lev.res) - 1
	nu1, nu2 := s.cfg.PreSmooth, s.cfg.PostSmooth

	for m := mtop; m < bot; m++ {
		lev.cor[m].SetVal(0)
		op.Smooth(a, m, lev.cor[m], lev.res[m], nu1)
		s.computeResOfCorrection(a, m)
		op.Restrict(a, m+1, lev.res[m+1], lev.rescor[m])
	}

	if a == 0 {
		if err := s.bottomSolve(); err != nil {
			return err
		}
	} else {
		lev.cor[bot].SetVal(0)
		op.Smooth(a, bot, lev.cor[bot], lev.res[bot], nu1+nu2)
	}

	for m := bot - 1; m >= mtop; m-- {
		s.addInterpCorrection(a, m)
		op.Smooth(a, m, lev.cor[m], lev.res[m], nu2)
	}
	return nil
}

// mgFcycle restricts the residual to the bottom of AMR level 0, solves
// there, then runs a V-cycle rooted at each finer MG level in turn.
func (s *Solver) mgFcycle() error {
	op := s.op
	lev := s.levels[0]
	bot := len(lev.res) - 1

	for m := 1; m <= bot; m++ {
		op.AvgDownResMG(m, lev.res[m], lev.res[m-1])
	}
	if err := s.bottomSolve(); err != nil {
		return err
	}

	for m := bot - 1; m >= 0; m-- {
		s.interpCorrectionMG(0, m)
		s.computeResOfCorrection(0, m)
		field.Copy(lev.res[m], lev.rescor[m], 0)
		lev.cor[m], lev.corHold[m] = lev.corHold[m], lev.cor[m]
		if err := s.mgVcycle(0, m); err != nil {
			return err
		}
		field.Add(lev.cor[m], lev.corHold[m], 0)
	}
	return nil
}
