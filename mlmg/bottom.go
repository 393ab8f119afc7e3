package mlmg

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notargets/amrmg/extsolve"
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/krylov"
	"github.com/notargets/amrmg/linop"
)

// bottomStrategy solves the correction equation on the coarsest MG level
// of AMR level 0.
type bottomStrategy interface {
	// solve sets x to an approximate solution of L(x) = b and returns the
	// number of iterations it issued.
	solve(x, b *field.MultiFab) (int, error)
	kind() linop.BottomSolver
	// release drops state cached for the current Solve
	release()
}

// bottomSolve runs the configured strategy on cor/res of the bottom level
func (s *Solver) bottomSolve() error {
	lev := s.levels[0]
	bot := len(lev.res) - 1
	x, b := lev.cor[bot], lev.res[bot]

	_, span := s.tracer.Start(s.ctx, "mlmg.BottomSolve",
		trace.WithAttributes(attribute.String("mlmg.bottom_solver", s.bottomName())))
	defer span.End()

	t0 := time.Now()
	iters, err := s.bottom.solve(x, b)
	s.timers.Bottom += time.Since(t0)
	s.iterBottom += iters
	s.metrics.AddBottomIterations(iters)
	span.SetAttributes(attribute.Int("mlmg.bottom_iterations", iters))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &LevelError{AMRLevel: 0, MGLevel: bot, Op: "bottom solve", Err: err}
	}
	return nil
}

// bottomRHS returns b, or a mean-free copy of it when the bottom operator
// is singular.
func (s *Solver) bottomRHS(b *field.MultiFab) *field.MultiFab {
	if !s.op.IsBottomSingular() {
		return b
	}
	bb := field.NewLike(b, 0)
	field.Copy(bb, b, 0)
	makeSolvableField(bb)
	return bb
}

func (s *Solver) bottomMGLevel() int { return s.op.NumMGLevels(0) - 1 }

// bottomName labels the bottom strategy in spans. A nested solve reports
// the smoother as its kind but is named apart here.
func (s *Solver) bottomName() string {
	if _, ok := s.bottom.(*nestedBottom); ok {
		return "nsolve"
	}
	return s.bottom.kind().String()
}

// resolveBottom turns the configured bottom solver into a strategy. Kinds
// that cannot be provided are rejected here rather than at dispatch.
func (s *Solver) resolveBottom() (bottomStrategy, error) {
	if s.cfg.NSolve {
		provider, ok := s.op.(linop.NSolveProvider)
		if !ok {
			return nil, ErrNSolveUnsupported
		}
		return &nestedBottom{s: s, provider: provider}, nil
	}

	kind, err := linop.ParseBottomSolver(s.cfg.BottomSolver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if kind == linop.BottomDefault {
		kind = linop.BottomBiCGStab
		if db, ok := s.op.(linop.DefaultBottom); ok && db.DefaultBottomSolver() != linop.BottomDefault {
			kind = db.DefaultBottomSolver()
		}
	}

	switch kind {
	case linop.BottomSmoother:
		return &smootherBottom{s: s}, nil
	case linop.BottomBiCGStab, linop.BottomCG, linop.BottomCGBiCG, linop.BottomBiCGCG:
		return newKrylovBottom(s, kind), nil
	case linop.BottomHypre, linop.BottomPETSc:
		return s.resolveExternal(kind)
	}
	return nil, fmt.Errorf("%w: %v", ErrBottomUnavailable, kind)
}

func (s *Solver) resolveExternal(kind linop.BottomSolver) (bottomStrategy, error) {
	ek := extsolve.KindHypre
	if kind == linop.BottomPETSc {
		ek = extsolve.KindPETSc
	}
	backend, ok := s.backends.Lookup(ek)
	if !ok {
		return nil, fmt.Errorf("%w: no %v backend registered", ErrBottomUnavailable, ek)
	}

	iface := s.cfg.externalInterface()
	if eb, ok := s.op.(linop.EmbeddedBoundary); ok && eb.HasEmbeddedBoundary() && iface != extsolve.InterfaceIJ {
		s.log.Info("mlmg: embedded boundary operator, using the ij interface",
			zap.Stringer("requested", iface))
		iface = extsolve.InterfaceIJ
	}
	if !backend.Supports(iface) {
		return nil, fmt.Errorf("%w: %v backend lacks the %v interface", ErrBottomUnavailable, ek, iface)
	}

	asm, ok := s.op.(linop.StencilAssembler)
	if !ok {
		s.log.Warn("mlmg: operator cannot assemble its bottom matrix, falling back to the smoother",
			zap.Stringer("requested", kind))
		return &smootherBottom{s: s}, nil
	}
	return &externalBottom{s: s, k: kind, backend: backend, iface: iface, asm: asm}, nil
}

// smootherBottom performs nuf sweeps in place of a solve
type smootherBottom struct {
	s *Solver
}

func (sb *smootherBottom) solve(x, b *field.MultiFab) (int, error) {
	x.SetVal(0)
	sb.s.op.Smooth(0, sb.s.bottomMGLevel(), x, b, sb.s.cfg.FinalSmooth)
	return 0, nil
}

func (sb *smootherBottom) kind() linop.BottomSolver { return linop.BottomSmoother }
func (sb *smootherBottom) release()                 {}

// bottomSystem is the homogeneous bottom operator seen by krylov
type bottomSystem struct {
	op  linop.Operator
	bot int
}

func (bs bottomSystem) MatVec(dst, src *field.MultiFab) {
	bs.op.Apply(0, bs.bot, dst, src, linop.Homogeneous, linop.Correction, nil)
}

func (bs bottomSystem) New() *field.MultiFab { return bs.op.Make(0, bs.bot, bs.op.NumGhost()) }

// krylovBottom runs CG or BiCGStab preconditioned by the operator. The
// hybrid kinds retry with the other method and keep it once it succeeds.
type krylovBottom struct {
	s        *Solver
	k        linop.BottomSolver
	method   linop.BottomSolver // BottomCG or BottomBiCGStab
	fallback linop.BottomSolver // BottomDefault when there is none
}

func newKrylovBottom(s *Solver, k linop.BottomSolver) *krylovBottom {
	kb := &krylovBottom{s: s, k: k, method: k, fallback: linop.BottomDefault}
	switch k {
	case linop.BottomCGBiCG:
		kb.method, kb.fallback = linop.BottomCG, linop.BottomBiCGStab
	case linop.BottomBiCGCG:
		kb.method, kb.fallback = linop.BottomBiCGStab, linop.BottomCG
	}
	return kb
}

func (kb *krylovBottom) kind() linop.BottomSolver { return kb.k }
func (kb *krylovBottom) release()                 {}

func (kb *krylovBottom) run(method linop.BottomSolver, x, b *field.MultiFab) (int, error) {
	s := kb.s
	bot := s.bottomMGLevel()
	var m krylov.Method = &krylov.BiCGStab{}
	if method == linop.BottomCG {
		m = &krylov.CG{}
	}
	x.SetVal(0)
	stats, err := krylov.Solve(bottomSystem{op: s.op, bot: bot}, x, b, m, krylov.Settings{
		TolRel:        s.cfg.BottomTolRel,
		TolAbs:        s.cfg.BottomTolAbs,
		MaxIterations: s.cfg.BottomMaxIter,
		PSolve:        func(dst, src *field.MultiFab) { s.op.Precondition(0, bot, dst, src) },
	})
	if err != nil && !errors.Is(err, krylov.ErrIterationLimit) {
		// no usable iterate
		x.SetVal(0)
	}
	if s.cfg.BottomVerbose >= 1 {
		s.log.Info("mlmg: bottom krylov",
			zap.Stringer("method", method),
			zap.Int("iterations", stats.Iterations),
			zap.Float64("residual", stats.ResidualNorm),
			zap.Error(err))
	}
	return stats.Iterations, err
}

func (kb *krylovBottom) solve(x, b *field.MultiFab) (int, error) {
	s := kb.s
	bb := s.bottomRHS(b)
	iters, err := kb.run(kb.method, x, bb)
	if err != nil && kb.fallback != linop.BottomDefault {
		more, err2 := kb.run(kb.fallback, x, bb)
		iters += more
		if err2 == nil {
			s.log.Info("mlmg: bottom solver switched",
				zap.Stringer("from", kb.method), zap.Stringer("to", kb.fallback))
			kb.method, kb.k, kb.fallback = kb.fallback, kb.fallback, linop.BottomDefault
		}
		err = err2
	}

	nsmooth := s.cfg.BottomSmooth
	if err != nil {
		s.metrics.BottomFailure(kb.method.String())
		nsmooth = s.cfg.FinalSmooth
	}
	s.op.Smooth(0, s.bottomMGLevel(), x, b, nsmooth)
	return iters, nil
}

// externalBottom hands the bottom level to a sparse solver backend. The
// matrix is assembled on first use and kept until release.
type externalBottom struct {
	s       *Solver
	k       linop.BottomSolver
	backend extsolve.Backend
	iface   extsolve.Interface
	asm     linop.StencilAssembler

	num    *linop.Numbering
	handle extsolve.Handle
	rhs    []float64
	sol    []float64
}

func (eb *externalBottom) kind() linop.BottomSolver { return eb.k }

func (eb *externalBottom) setup() error {
	eb.num = linop.NewNumbering(eb.s.op.Layout(0, eb.s.bottomMGLevel()))
	m := extsolve.NewMatrix(eb.num.Len())
	if err := eb.asm.AssembleBottom(eb.num, m.Add); err != nil {
		return fmt.Errorf("%w: assemble: %w", ErrExternalSolve, err)
	}
	h, err := eb.backend.Setup(m.CSR(), eb.iface)
	if err != nil {
		return fmt.Errorf("%w: %v setup: %w", ErrExternalSolve, eb.backend.Kind(), err)
	}
	eb.handle = h
	eb.rhs = make([]float64, eb.num.Len())
	eb.sol = make([]float64, eb.num.Len())
	if eb.s.cfg.BottomVerbose >= 1 {
		eb.s.log.Info("mlmg: external bottom assembled",
			zap.Stringer("backend", eb.backend.Kind()),
			zap.Stringer("interface", eb.iface),
			zap.Int("rows", eb.num.Len()),
			zap.Int("nonzeros", m.NNZ()))
	}
	return nil
}

func (eb *externalBottom) solve(x, b *field.MultiFab) (int, error) {
	if eb.handle == nil {
		if err := eb.setup(); err != nil {
			return 0, err
		}
	}
	eb.num.Gather(eb.rhs, eb.s.bottomRHS(b))
	if err := eb.handle.Solve(eb.sol, eb.rhs); err != nil {
		return 0, fmt.Errorf("%w: %v solve: %w", ErrExternalSolve, eb.backend.Kind(), err)
	}
	eb.num.Scatter(x, eb.sol)
	return 1, nil
}

func (eb *externalBottom) release() {
	if eb.handle != nil {
		eb.handle.Release()
		eb.handle = nil
	}
}
