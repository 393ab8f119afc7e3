package poisson

import (
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/linop"
)

// average sets each cell of crse to the mean of the r*r fine cells it
// covers; crse and fine have matching patch lists.
func average(crse, fine *field.MultiFab, r int) {
	w := 1 / float64(r*r)
	forEach(crse, func(p int, cfab *field.FAB) {
		ffab := fine.Patches[p]
		b := cfab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				s := 0.0
				for jj := j * r; jj < (j+1)*r; jj++ {
					for _, v := range ffab.Row(jj, i*r, (i+1)*r-1) {
						s += v
					}
				}
				cfab.Set(i, j, s*w)
			}
		}
	})
}

// prolong sets or adds the piecewise-constant prolongation of crse
func prolong(fine, crse *field.MultiFab, r int, add bool) {
	forEach(fine, func(p int, ffab *field.FAB) {
		cfab := crse.Patches[p]
		b := ffab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			row := ffab.Row(j, b.Lo[0], b.Hi[0])
			cj := down(j, r)
			for n := range row {
				v := cfab.At(down(b.Lo[0]+n, r), cj)
				if add {
					row[n] += v
				} else {
					row[n] = v
				}
			}
		}
	})
}

func (op *Operator) Restrict(amrlev, cmglev int, crse, fine *field.MultiFab) {
	average(crse, fine, 2)
}

func (op *Operator) Interpolate(amrlev, fmglev int, fine, crse *field.MultiFab) {
	prolong(fine, crse, 2, true)
}

func (op *Operator) InterpAssign(amrlev, fmglev int, fine, crse *field.MultiFab) {
	prolong(fine, crse, 2, false)
}

func (op *Operator) InterpolationAMR(famrlev int, fine, crse *field.MultiFab) {
	prolong(fine, crse, op.ratios[famrlev-1], false)
}

func (op *Operator) AvgDownResMG(cmglev int, cres, fres *field.MultiFab) {
	average(cres, fres, 2)
}

// avgDownAMR averages fine (AMR level clev+1) onto the covered cells of
// crse (AMR level clev).
func (op *Operator) avgDownAMR(clev int, crse, fine *field.MultiFab) {
	tmp := op.MakeCoarseAMR(clev+1, 0)
	average(tmp, fine, op.ratios[clev])
	field.ParallelCopy(crse, tmp)
}

func (op *Operator) AvgDownResAMR(clev int, cres, fres *field.MultiFab) {
	op.avgDownAMR(clev, cres, fres)
}

func (op *Operator) AverageDownAndSync(sol []*field.MultiFab) {
	for a := len(sol) - 1; a > 0; a-- {
		op.avgDownAMR(a-1, sol[a-1], sol[a])
	}
}

// Reflux corrects the residual of each uncovered coarse cell next to the
// fine level so the flux through the coarse/fine face is the average of
// the fine fluxes through it.
func (op *Operator) Reflux(clev int, cres, crseSol, fineSol *field.MultiFab) {
	fl := op.lev(clev+1, 0)
	op.fill(fl, fineSol, linop.Inhomogeneous, linop.Solution, crseSol)
	r := float64(op.ratios[clev])
	hc := op.lev(clev, 0).geom.Dx
	hf := fl.geom.Dx
	scale := op.opts.Beta / (hc * r)
	// several fine faces update one coarse cell, so this stays serial
	for p, gs := range fl.bnd {
		ffab := fineSol.Patches[p]
		for _, g := range gs {
			if g.kind != ghostCoarseFine {
				continue
			}
			uout := crseSol.Patches[g.cp].At(g.ci, g.cj)
			uin := crseSol.Patches[g.cpIn].At(g.ciIn, g.cjIn)
			gc := (uin - uout) / hc
			gf := (ffab.At(g.ii, g.jj) - ffab.At(g.i, g.j)) / hf
			cfab := cres.Patches[g.cp]
			cfab.Set(g.ci, g.cj, cfab.At(g.ci, g.cj)+scale*(gf-gc))
		}
	}
}
