package krylov

import (
	"math"

	"github.com/notargets/amrmg/field"
)

// CG is the preconditioned Conjugate Gradient method for symmetric positive
// definite systems. The preconditioner must be symmetric too.
type CG struct {
	z, p, q *field.MultiFab
	rhoPrev float64
	first   bool
}

func (cg *CG) start(w *workspace) {
	cg.z, cg.p, cg.q = w.vector(), w.vector(), w.vector()
	cg.first = true
}

func (cg *CG) step(w *workspace) (bool, error) {
	w.precondition(cg.z, w.r)
	rho := field.Dot(w.r, cg.z, false)
	if math.Abs(rho) < tiny {
		return false, ErrBreakdown
	}
	if cg.first {
		field.Copy(cg.p, cg.z, 0)
	} else {
		field.Xpay(cg.p, rho/cg.rhoPrev, cg.z, 0)
	}

	w.apply(cg.q, cg.p)
	pq := field.Dot(cg.p, cg.q, false)
	if math.Abs(pq) < tiny {
		return false, ErrBreakdown
	}
	alpha := rho / pq
	field.Saxpy(w.x, alpha, cg.p, 0)
	field.Saxpy(w.r, -alpha, cg.q, 0)

	cg.rhoPrev, cg.first = rho, false
	return w.converged(), nil
}
