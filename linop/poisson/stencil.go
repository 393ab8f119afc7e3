package poisson

import (
	"fmt"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
)

func forEach(mf *field.MultiFab, fn func(p int, fab *field.FAB)) {
	_ = mf.ForEachPatch(func(p int, fab *field.FAB) error {
		fn(p, fab)
		return nil
	})
}

func mustGhost(x *field.MultiFab, op string) {
	if x.NGhost < 1 {
		panic(fmt.Sprintf("poisson: %s needs a field with ghost cells", op))
	}
}

// fill sets every ghost cell of x: neighbouring patches first, then the
// domain and coarse/fine ghosts from their precomputed coefficients.
func (op *Operator) fill(lev *level, x *field.MultiFab, bc linop.BCMode, s linop.StateMode, crse *field.MultiFab) {
	mustGhost(x, "ghost fill")
	x.FillBoundary()
	useCrse := bc == linop.Inhomogeneous && crse != nil && lev.amrlev > 0 && lev.mglev == 0
	useValue := s == linop.Solution && op.opts.Value != nil
	r := float64(lev.cfRatio)
	forEach(x, func(p int, fab *field.FAB) {
		for _, g := range lev.bnd[p] {
			a := 0.0
			switch g.kind {
			case ghostDomain:
				if g.dirichlet && useValue {
					a = 2 * op.opts.Value(g.fx, g.fy)
				}
			case ghostCoarseFine:
				if useCrse {
					a = crse.Patches[g.cp].At(g.ci, g.cj) * 2 / (1 + r)
				}
			}
			fab.Set(g.i, g.j, a+g.b*fab.At(g.ii, g.jj))
		}
	})
}

// zeroBoundary sets the boundary-condition ghosts of x to zero, leaving
// ghosts filled from neighbouring patches.
func (op *Operator) zeroBoundary(lev *level, x *field.MultiFab) {
	forEach(x, func(p int, fab *field.FAB) {
		for _, g := range lev.bnd[p] {
			fab.Set(g.i, g.j, 0)
		}
	})
}

func (op *Operator) coefs(lev *level) (diag, off float64) {
	off = op.opts.Beta / (lev.geom.Dx * lev.geom.Dx)
	return op.opts.Alpha + 4*off, off
}

func (op *Operator) Apply(amrlev, mglev int, out, in *field.MultiFab, bc linop.BCMode, s linop.StateMode, crse *field.MultiFab) {
	lev := op.lev(amrlev, mglev)
	op.fill(lev, in, bc, s, crse)
	diag, off := op.coefs(lev)
	forEach(out, func(p int, ofab *field.FAB) {
		u := in.Patches[p]
		b := ofab.Box
		sy := u.Stride()
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			row := ofab.Row(j, b.Lo[0], b.Hi[0])
			k := u.Index(b.Lo[0], j)
			for n := range row {
				nb := u.Data[k+n-1] + u.Data[k+n+1] + u.Data[k+n-sy] + u.Data[k+n+sy]
				row[n] = diag*u.Data[k+n] - off*nb
			}
		}
	})
}

func (op *Operator) SolutionResidual(amrlev int, res, x, b, crse *field.MultiFab) {
	op.Apply(amrlev, 0, res, x, linop.Inhomogeneous, linop.Solution, crse)
	field.Xpay(res, -1, b, 0)
}

func (op *Operator) CorrectionResidual(amrlev, mglev int, res, x, b *field.MultiFab, bc linop.BCMode, crse *field.MultiFab) {
	op.Apply(amrlev, mglev, res, x, bc, linop.Correction, crse)
	field.Xpay(res, -1, b, 0)
}

func (op *Operator) FillSolutionBC(amrlev int, x, crse *field.MultiFab) {
	op.fill(op.lev(amrlev, 0), x, linop.Inhomogeneous, linop.Solution, crse)
}

// relax performs one Gauss-Seidel pass over the cells with (i+j)%2 ==
// color. Boundary ghosts must be zero; their coefficients enter through
// the modified diagonal.
func (op *Operator) relax(lev *level, x, rhs *field.MultiFab, color int) {
	diag, off := op.coefs(lev)
	forEach(x, func(p int, fab *field.FAB) {
		bf := rhs.Patches[p]
		bs := lev.bsum[p]
		b := fab.Box
		nx := b.Length(0)
		sy := fab.Stride()
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			i0 := b.Lo[0] + mod2(color-b.Lo[0]-j)
			for i := i0; i <= b.Hi[0]; i += 2 {
				k := fab.Index(i, j)
				nb := fab.Data[k-1] + fab.Data[k+1] + fab.Data[k-sy] + fab.Data[k+sy]
				l := (i - b.Lo[0]) + (j-b.Lo[1])*nx
				fab.Data[k] = (bf.At(i, j) + off*nb) / (diag - off*bs[l])
			}
		}
	})
}

func mod2(v int) int { return ((v % 2) + 2) % 2 }

func (op *Operator) sweep(lev *level, x, rhs *field.MultiFab, colors ...int) {
	mustGhost(x, "relaxation")
	x.FillBoundary()
	op.zeroBoundary(lev, x)
	for n, c := range colors {
		if n > 0 {
			x.FillBoundary()
		}
		op.relax(lev, x, rhs, c)
	}
}

// Smooth performs red-black Gauss-Seidel sweeps
func (op *Operator) Smooth(amrlev, mglev int, x, b *field.MultiFab, nsweeps int) {
	if nsweeps <= 0 {
		return
	}
	colors := make([]int, 0, 2*nsweeps)
	for n := 0; n < nsweeps; n++ {
		colors = append(colors, 0, 1)
	}
	op.sweep(op.lev(amrlev, mglev), x, b, colors...)
}

// Precondition applies one symmetric red-black sweep from a zero guess
func (op *Operator) Precondition(amrlev, mglev int, x, b *field.MultiFab) {
	x.SetVal(0)
	op.sweep(op.lev(amrlev, mglev), x, b, 0, 1, 0)
}

func (op *Operator) Gradient(amrlev int, grad [grid.Dims]*field.MultiFab, x, crse *field.MultiFab) {
	lev := op.lev(amrlev, 0)
	op.fill(lev, x, linop.Inhomogeneous, linop.Solution, crse)
	op.faceGradient(lev, grad, x, 1)
}

func (op *Operator) Flux(amrlev int, flux [grid.Dims]*field.MultiFab, x, crse *field.MultiFab) {
	lev := op.lev(amrlev, 0)
	op.fill(lev, x, linop.Inhomogeneous, linop.Solution, crse)
	op.faceGradient(lev, flux, x, -op.opts.Beta)
}

// faceGradient sets out[d] = scale * du/dx_d on the faces of every patch
func (op *Operator) faceGradient(lev *level, out [grid.Dims]*field.MultiFab, x *field.MultiFab, scale float64) {
	s := scale / lev.geom.Dx
	for d := 0; d < grid.Dims; d++ {
		if out[d] == nil {
			continue
		}
		forEach(out[d], func(p int, ffab *field.FAB) {
			u := x.Patches[p]
			stride := 1
			if d == 1 {
				stride = u.Stride()
			}
			b := ffab.Box
			for j := b.Lo[1]; j <= b.Hi[1]; j++ {
				row := ffab.Row(j, b.Lo[0], b.Hi[0])
				k := u.Index(b.Lo[0], j)
				for n := range row {
					row[n] = s * (u.Data[k+n] - u.Data[k+n-stride])
				}
			}
		})
	}
}
