package krylov

import (
	"math"

	"github.com/notargets/amrmg/field"
)

// BiCGStab is the preconditioned BiConjugate Gradient Stabilized method.
// It does not need a symmetric operator. An iteration that meets the
// target halfway returns after one operator application.
type BiCGStab struct {
	rt, p, v, ph, sh, t *field.MultiFab

	rho, alpha, omega float64
	first             bool
}

func (bs *BiCGStab) start(w *workspace) {
	bs.rt = w.vector()
	field.Copy(bs.rt, w.r, 0)
	bs.p, bs.v, bs.t = w.vector(), w.vector(), w.vector()
	bs.ph, bs.sh = w.vector(), w.vector()
	bs.first = true
}

func (bs *BiCGStab) step(w *workspace) (bool, error) {
	rho := field.Dot(bs.rt, w.r, false)
	if math.Abs(rho) < tiny {
		return false, ErrBreakdown
	}
	if bs.first {
		field.Copy(bs.p, w.r, 0)
	} else {
		// p = r + beta*(p - omega*v)
		beta := (rho / bs.rho) * (bs.alpha / bs.omega)
		field.Saxpy(bs.p, -bs.omega, bs.v, 0)
		field.Xpay(bs.p, beta, w.r, 0)
	}
	bs.rho, bs.first = rho, false

	w.precondition(bs.ph, bs.p)
	w.apply(bs.v, bs.ph)
	rtv := field.Dot(bs.rt, bs.v, false)
	if math.Abs(rtv) < tiny {
		return false, ErrBreakdown
	}
	bs.alpha = rho / rtv
	field.Saxpy(w.x, bs.alpha, bs.ph, 0)
	field.Saxpy(w.r, -bs.alpha, bs.v, 0) // r holds s
	if w.converged() {
		return true, nil
	}

	w.precondition(bs.sh, w.r)
	w.apply(bs.t, bs.sh)
	tt := field.Dot(bs.t, bs.t, false)
	if tt == 0 {
		return false, ErrBreakdown
	}
	bs.omega = field.Dot(bs.t, w.r, false) / tt
	field.Saxpy(w.x, bs.omega, bs.sh, 0)
	field.Saxpy(w.r, -bs.omega, bs.t, 0)
	if w.converged() {
		return true, nil
	}
	if math.Abs(bs.omega) < tiny {
		return false, ErrBreakdown
	}
	return false, nil
}
