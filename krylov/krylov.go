// Package krylov solves linear systems on field containers with
// preconditioned Krylov methods. Solve owns the outer loop: it counts
// operator and preconditioner applications, watches the residual, and
// keeps the best iterate seen. A Method only advances its recurrence by one
// iteration at a time.
package krylov

import (
	"errors"
	"math"
	"time"

	"github.com/notargets/amrmg/field"
)

var (
	// ErrIterationLimit is returned with the best iterate when MaxIterations
	// are done without meeting the tolerance.
	ErrIterationLimit = errors.New("krylov: iteration limit reached")
	// ErrBreakdown is returned when a method cannot continue, e.g. a zero
	// inner product in BiCGStab.
	ErrBreakdown = errors.New("krylov: breakdown")
)

// tiny is the smallest inner product a method divides by
const tiny = 1.0 / (1 << 106)

// System is the linear operator and the field factory of a solve
type System interface {
	// MatVec sets dst = A*src. src carries the ghost cells A needs.
	MatVec(dst, src *field.MultiFab)
	// New allocates a zeroed vector with the ghost cells MatVec needs
	New() *field.MultiFab
}

// Settings holds the tolerances and limits of a solve
type Settings struct {
	// The solve stops once |r| <= max(TolRel*|r0|, TolAbs), both measured
	// in the max norm.
	TolRel float64
	TolAbs float64

	// MaxIterations is the limit on the number of iterations; zero means 100
	MaxIterations int

	// PSolve sets dst to the preconditioned src, M^-1 src. If it is nil
	// the identity is used.
	PSolve func(dst, src *field.MultiFab)
}

// Stats holds statistics about a solve
type Stats struct {
	Iterations   int
	MatVec       int
	PSolve       int
	ResidualNorm float64
	Runtime      time.Duration
}

// Method is a Krylov recurrence. CG and BiCGStab implement it; a Method
// value carries the state of one solve and is reset by Solve.
type Method interface {
	start(w *workspace)
	// step runs one iteration, updating w.x and w.r. It reports whether
	// the residual met the target.
	step(w *workspace) (bool, error)
}

// workspace is what a Method sees of a running solve
type workspace struct {
	sys      System
	settings Settings
	stats    *Stats
	target   float64

	x, r *field.MultiFab
	norm float64
}

func (w *workspace) vector() *field.MultiFab { return w.sys.New() }

func (w *workspace) apply(dst, src *field.MultiFab) {
	w.sys.MatVec(dst, src)
	w.stats.MatVec++
}

func (w *workspace) precondition(dst, src *field.MultiFab) {
	if w.settings.PSolve == nil {
		field.Copy(dst, src, 0)
		return
	}
	w.settings.PSolve(dst, src)
	w.stats.PSolve++
}

// converged measures w.r against the target
func (w *workspace) converged() bool {
	w.norm = w.r.NormInf(nil, false)
	return w.norm <= w.target
}

// Solve improves x towards A*x = b. x is taken as the initial guess.
//
// On ErrIterationLimit and ErrBreakdown x holds the iterate with the
// smallest residual norm seen.
func Solve(sys System, x, b *field.MultiFab, method Method, settings Settings) (Stats, error) {
	begin := time.Now()
	var stats Stats
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = 100
	}

	w := &workspace{sys: sys, settings: settings, stats: &stats, x: x, r: sys.New()}
	w.apply(w.r, x)
	field.Xpay(w.r, -1, b, 0) // r = b - Ax
	w.norm = w.r.NormInf(nil, false)
	w.target = math.Max(settings.TolRel*w.norm, settings.TolAbs)
	stats.ResidualNorm = w.norm

	var err error
	if w.norm > w.target {
		err = w.run(method)
	}
	stats.Runtime = time.Since(begin)
	return stats, err
}

func (w *workspace) run(method Method) error {
	best := w.vector()
	field.Copy(best, w.x, 0)
	bestNorm := w.norm
	fail := func(err error) error {
		field.Copy(w.x, best, 0)
		w.stats.ResidualNorm = bestNorm
		return err
	}

	method.start(w)
	for {
		done, err := method.step(w)
		if err != nil {
			return fail(err)
		}
		w.stats.Iterations++
		w.stats.ResidualNorm = w.norm
		switch {
		case done:
			return nil
		case math.IsNaN(w.norm) || math.IsInf(w.norm, 0):
			return fail(ErrBreakdown)
		}
		if w.norm < bestNorm {
			bestNorm = w.norm
			field.Copy(best, w.x, 0)
		}
		if w.stats.Iterations >= w.settings.MaxIterations {
			return fail(ErrIterationLimit)
		}
	}
}
