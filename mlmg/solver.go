// Package mlmg solves linear systems on AMR hierarchies with geometric
// multigrid. The engine only sequences operations; discretization, ghost
// filling, and transfer stencils are provided by a linop.Operator.
//
// One Solver serves one operator. Solve calls on a Solver must not run
// concurrently.
package mlmg

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notargets/amrmg/checkpoint"
	"github.com/notargets/amrmg/extsolve"
	"github.com/notargets/amrmg/fabio"
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
	"github.com/notargets/amrmg/metrics"
)

const tracerName = "github.com/notargets/amrmg/mlmg"

// Timers are the wall times of the last Solve
type Timers struct {
	Solve     time.Duration
	Iteration time.Duration // all cycles
	Bottom    time.Duration // all bottom solves
}

type Solver struct {
	op       linop.Operator
	cfg      Config
	log      *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Collector
	backends *extsolve.Registry
	// annotations are copied into checkpoint headers
	annotations map[string]string
	// nested solvers run FixedIters cycles without evaluating norms
	nested bool

	bottom bottomStrategy
	levels []*levelState
	ctx    context.Context

	modes   []SolutionMode
	lastSol []*field.MultiFab

	rhsNorm0, initResNorm0, finalResNorm0 float64
	resHistory                            []float64
	bottomHistory                         []int
	iterBottom                            int
	numIters                              int
	status                                Status
	timers                                Timers
}

// New returns a solver for op. It fails when the configuration is invalid
// or names a bottom solver that cannot be provided.
func New(op linop.Operator, opts ...Option) (*Solver, error) {
	if op == nil {
		panic("mlmg: nil operator")
	}
	s := &Solver{
		op:     op,
		cfg:    DefaultConfig(),
		log:    zap.NewNop(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if op.NumAMRLevels() < 1 {
		return nil, fmt.Errorf("%w: operator has no AMR levels", ErrInvalidConfig)
	}
	var err error
	if s.bottom, err = s.resolveBottom(); err != nil {
		return nil, err
	}
	return s, nil
}

// Solve is SolveContext without a trace parent
func (s *Solver) Solve(sol, rhs []*field.MultiFab, tolRel, tolAbs float64) (float64, error) {
	return s.SolveContext(context.Background(), sol, rhs, tolRel, tolAbs)
}

// SolveContext solves L(sol) = rhs on every AMR level, starting from the
// values in sol, and returns the final composite residual norm. Missing
// the tolerance is not an error; see Status. ctx only parents the trace
// spans; a solve cannot be cancelled.
func (s *Solver) SolveContext(ctx context.Context, sol, rhs []*field.MultiFab, tolRel, tolAbs float64) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "mlmg.Solve",
		trace.WithAttributes(
			attribute.Int("mlmg.amr_levels", s.op.NumAMRLevels()),
			attribute.Float64("mlmg.tol_rel", tolRel),
			attribute.Float64("mlmg.tol_abs", tolAbs),
			attribute.String("mlmg.bottom_solver", s.bottomName()),
			attribute.Bool("mlmg.nested", s.nested)))
	defer span.End()
	s.ctx = ctx
	defer func() { s.ctx = context.Background() }()

	t0 := time.Now()
	s.reset()
	// the checkpoint holds the caller's fields before any averaging
	err := s.checkFields("solution", sol)
	if err == nil {
		err = s.checkFields("rhs", rhs)
	}
	if err == nil {
		err = s.writeCheckpoint(sol, rhs, tolRel, tolAbs)
	}
	if err == nil {
		err = s.prepareForSolve(sol, rhs)
	}
	if err != nil {
		s.levels = nil
		s.status = StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	s.modes = make([]SolutionMode, len(s.levels))
	for a, lev := range s.levels {
		s.modes[a] = lev.mode
	}
	s.lastSol = sol

	err = s.iterate(tolRel, tolAbs)
	if err == nil && s.cfg.FinalFillBC {
		for a, lev := range s.levels {
			s.op.FillSolutionBC(a, lev.sol, s.crseSol(a))
		}
	}
	s.finishSolve()
	s.timers.Solve = time.Since(t0)

	if err != nil {
		s.status = StatusFailed
	}
	span.SetAttributes(
		attribute.String("mlmg.status", s.status.String()),
		attribute.Int("mlmg.iterations", s.numIters),
		attribute.Float64("mlmg.final_residual", s.finalResNorm0))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("mlmg: solve failed", zap.Error(err))
		return s.finalResNorm0, err
	}
	if !s.nested {
		s.metrics.ObserveSolve(s.status.String(), s.numIters, s.finalResNorm0, s.timers.Solve.Seconds())
		if s.cfg.Verbose >= 1 {
			s.log.Info("mlmg: final",
				zap.Stringer("status", s.status),
				zap.Int("iterations", s.numIters),
				zap.Float64("residual", s.finalResNorm0),
				zap.Duration("solve", s.timers.Solve),
				zap.Duration("bottom", s.timers.Bottom))
		}
	}
	return s.finalResNorm0, nil
}

func (s *Solver) reset() {
	s.rhsNorm0, s.initResNorm0, s.finalResNorm0 = 0, 0, 0
	s.resHistory = s.resHistory[:0]
	s.bottomHistory = s.bottomHistory[:0]
	s.iterBottom, s.numIters = 0, 0
	s.status = StatusNotRun
	s.timers = Timers{}
}

func (s *Solver) writeCheckpoint(sol, rhs []*field.MultiFab, tolRel, tolAbs float64) error {
	if s.cfg.CheckpointDir == "" || s.nested {
		return nil
	}
	ratios := make([]int, s.op.NumAMRLevels()-1)
	for a := range ratios {
		ratios[a] = s.op.RefRatio(a)
	}
	notes := map[string]string{"operator": fmt.Sprintf("%T", s.op)}
	for k, v := range s.annotations {
		notes[k] = v
	}
	h, err := checkpoint.Write(s.cfg.CheckpointDir, checkpoint.Inputs{
		TolRel:      tolRel,
		TolAbs:      tolAbs,
		Solver:      s.cfg,
		Sol:         sol,
		Rhs:         rhs,
		RefRatios:   ratios,
		Annotations: notes,
		Fab:         fabio.DefaultOptions(),
	})
	if err != nil {
		return fmt.Errorf("mlmg: checkpoint: %w", err)
	}
	if s.cfg.Verbose >= 1 {
		s.log.Info("mlmg: checkpoint written",
			zap.String("dir", s.cfg.CheckpointDir), zap.String("run_id", h.RunID))
	}
	return nil
}

// checkFields verifies one field per AMR level on the operator's layouts
func (s *Solver) checkFields(name string, fs []*field.MultiFab) error {
	n := s.op.NumAMRLevels()
	if len(fs) != n {
		return fmt.Errorf("%w: %d %s fields for %d AMR levels", ErrLayoutMismatch, len(fs), name, n)
	}
	for a, f := range fs {
		if f == nil || !f.Layout.SameAs(s.op.Layout(a, 0)) {
			return &LevelError{AMRLevel: a, Op: name, Err: ErrLayoutMismatch}
		}
	}
	return nil
}

// ghosted returns each field, or a copy of it with the operator's ghost
// width when it has fewer ghosts.
func (s *Solver) ghosted(fs []*field.MultiFab) []*field.MultiFab {
	ng := s.op.NumGhost()
	out := make([]*field.MultiFab, len(fs))
	for a, f := range fs {
		if f.NGhost >= ng {
			out[a] = f
			continue
		}
		out[a] = s.op.Make(a, 0, ng)
		field.Copy(out[a], f, 0)
	}
	return out
}

// compositeResidual sets res = rhs - L(sol) on all levels, finest first,
// with the fine residual averaged onto covered coarse cells. A nil rhs
// stands for zero.
func (s *Solver) compositeResidual(res, sol, rhs []*field.MultiFab) {
	op := s.op
	n := op.NumAMRLevels()
	x := s.ghosted(sol)
	for a := n - 1; a >= 0; a-- {
		b := op.Make(a, 0, 0)
		if rhs != nil {
			field.Copy(b, rhs[a], 0)
		}
		var crse *field.MultiFab
		if a > 0 {
			crse = x[a-1]
		}
		op.SolutionResidual(a, res[a], x[a], b, crse)
		if a < n-1 {
			op.Reflux(a, res[a], x[a], x[a+1])
			op.AvgDownResAMR(a, res[a], res[a+1])
		}
	}
}

// Apply sets out = L(in) on every AMR level with the operator's boundary
// data, refluxed and averaged down like a composite residual.
func (s *Solver) Apply(out, in []*field.MultiFab) error {
	if err := s.checkFields("apply output", out); err != nil {
		return err
	}
	if err := s.checkFields("apply input", in); err != nil {
		return err
	}
	s.compositeResidual(out, in, nil)
	for _, o := range out {
		o.Scale(-1, 0)
	}
	return nil
}

// CompResidual sets res = rhs - L(sol) on every AMR level
func (s *Solver) CompResidual(res, sol, rhs []*field.MultiFab) error {
	for _, c := range []struct {
		name string
		fs   []*field.MultiFab
	}{{"residual", res}, {"solution", sol}, {"rhs", rhs}} {
		if err := s.checkFields(c.name, c.fs); err != nil {
			return err
		}
	}
	s.compositeResidual(res, sol, rhs)
	return nil
}

// MakeFaceFields allocates face fields on AMR level a for GetFluxes and
// GetGradSolution.
func (s *Solver) MakeFaceFields(a int) [grid.Dims]*field.MultiFab {
	l := s.op.Layout(a, 0)
	cfg := s.op.Make(a, 0, 0).Config()
	return [grid.Dims]*field.MultiFab{
		field.NewMultiFabWith(l, grid.FaceX, 0, cfg),
		field.NewMultiFabWith(l, grid.FaceY, 0, cfg),
	}
}

func (s *Solver) faceQuery(out [][grid.Dims]*field.MultiFab, sol []*field.MultiFab, flux bool) error {
	if sol == nil {
		return fmt.Errorf("mlmg: no solution to query; call Solve first")
	}
	if err := s.checkFields("solution", sol); err != nil {
		return err
	}
	if len(out) != len(sol) {
		return fmt.Errorf("%w: %d face field sets for %d AMR levels", ErrLayoutMismatch, len(out), len(sol))
	}
	x := s.ghosted(sol)
	for a := range x {
		var crse *field.MultiFab
		if a > 0 {
			crse = x[a-1]
		}
		if flux {
			s.op.Flux(a, out[a], x[a], crse)
		} else {
			s.op.Gradient(a, out[a], x[a], crse)
		}
	}
	return nil
}

// GetFluxes sets the face fluxes of the last solution
func (s *Solver) GetFluxes(flux [][grid.Dims]*field.MultiFab) error {
	return s.faceQuery(flux, s.lastSol, true)
}

// GetFluxesOf sets the face fluxes of sol
func (s *Solver) GetFluxesOf(flux [][grid.Dims]*field.MultiFab, sol []*field.MultiFab) error {
	return s.faceQuery(flux, sol, true)
}

// Location is where GetFluxesAt reports fluxes
type Location uint8

const (
	FaceCenter Location = iota
	CellCenter
)

// GetFluxesAt sets the fluxes of the last solution at loc. For CellCenter
// flux holds one cell-centred field per direction, set to the mean of the
// two face fluxes bounding each cell.
func (s *Solver) GetFluxesAt(flux [][grid.Dims]*field.MultiFab, loc Location) error {
	switch loc {
	case FaceCenter:
		return s.GetFluxes(flux)
	case CellCenter:
	default:
		return fmt.Errorf("mlmg: unknown flux location %d", loc)
	}
	n := s.op.NumAMRLevels()
	if len(flux) != n {
		return fmt.Errorf("%w: %d flux field sets for %d AMR levels", ErrLayoutMismatch, len(flux), n)
	}
	faces := make([][grid.Dims]*field.MultiFab, n)
	for a := range flux {
		for _, f := range flux[a] {
			if f == nil || f.IxType != grid.CellCentered || !f.Layout.SameAs(s.op.Layout(a, 0)) {
				return &LevelError{AMRLevel: a, Op: "cell-centred flux", Err: ErrLayoutMismatch}
			}
		}
		faces[a] = s.MakeFaceFields(a)
	}
	if err := s.GetFluxes(faces); err != nil {
		return err
	}
	for a := range flux {
		for d, f := range flux[a] {
			field.AverageFaceToCell(f, faces[a][d])
		}
	}
	return nil
}

// GetGradSolution sets the face gradients of the last solution
func (s *Solver) GetGradSolution(grad [][grid.Dims]*field.MultiFab) error {
	return s.faceQuery(grad, s.lastSol, false)
}

// CheckFinite reports the first AMR level of the last solution holding a
// NaN or Inf in its valid cells.
func (s *Solver) CheckFinite() error {
	for a, f := range s.lastSol {
		if f.ContainsNaN(0) || f.ContainsInf(0) {
			return &LevelError{AMRLevel: a, Op: "solution check", Err: ErrNonFinite}
		}
	}
	return nil
}

// The setters of bounded knobs return the validation error and keep the
// previous value when the new one is out of range.
func (s *Solver) SetVerbose(v int) error             { return s.set(func(c *Config) { c.Verbose = v }) }
func (s *Solver) SetBottomVerbose(v int) error       { return s.set(func(c *Config) { c.BottomVerbose = v }) }
func (s *Solver) SetMaxIter(n int) error             { return s.set(func(c *Config) { c.MaxIters = n }) }
func (s *Solver) SetMaxFmgIter(n int) error          { return s.set(func(c *Config) { c.MaxFmgIters = n }) }
func (s *Solver) SetFixedIter(n int) error           { return s.set(func(c *Config) { c.FixedIters = n }) }
func (s *Solver) SetPreSmooth(n int) error           { return s.set(func(c *Config) { c.PreSmooth = n }) }
func (s *Solver) SetPostSmooth(n int) error          { return s.set(func(c *Config) { c.PostSmooth = n }) }
func (s *Solver) SetFinalSmooth(n int) error         { return s.set(func(c *Config) { c.FinalSmooth = n }) }
func (s *Solver) SetBottomSmooth(n int) error        { return s.set(func(c *Config) { c.BottomSmooth = n }) }
func (s *Solver) SetBottomMaxIter(n int) error       { return s.set(func(c *Config) { c.BottomMaxIter = n }) }
func (s *Solver) SetBottomTolerance(t float64) error { return s.set(func(c *Config) { c.BottomTolRel = t }) }
func (s *Solver) SetNSolveGridSize(n int) error      { return s.set(func(c *Config) { c.NSolveGridSize = n }) }

func (s *Solver) SetBottomToleranceAbs(t float64) { s.cfg.BottomTolAbs = t }
func (s *Solver) SetAlwaysUseBNorm(b bool)        { s.cfg.AlwaysUseBNorm = b }
func (s *Solver) SetFinalFillBC(b bool)           { s.cfg.FinalFillBC = b }
func (s *Solver) SetCheckpointDir(dir string)     { s.cfg.CheckpointDir = dir }

func (s *Solver) set(change func(*Config)) error {
	next := s.cfg
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// SetBottomSolver selects the bottom solver. Unavailable kinds are
// rejected and leave the previous choice in place.
func (s *Solver) SetBottomSolver(kind linop.BottomSolver) error {
	return s.reconfigure(func(c *Config) { c.BottomSolver = kind.String() })
}

// SetNSolve enables the nested bottom solve
func (s *Solver) SetNSolve(on bool) error {
	return s.reconfigure(func(c *Config) { c.NSolve = on })
}

func (s *Solver) reconfigure(change func(*Config)) error {
	prev := s.cfg
	if err := s.set(change); err != nil {
		return err
	}
	bottom, err := s.resolveBottom()
	if err != nil {
		s.cfg = prev
		return err
	}
	s.bottom = bottom
	return nil
}

func (s *Solver) Config() Config { return s.cfg }

// InitRHS is the rhs norm of the last solve
func (s *Solver) InitRHS() float64 { return s.rhsNorm0 }

// InitResidual is the composite residual norm before the first iteration
func (s *Solver) InitResidual() float64  { return s.initResNorm0 }
func (s *Solver) FinalResidual() float64 { return s.finalResNorm0 }

// ResidualHistory holds the composite residual norm after each iteration
func (s *Solver) ResidualHistory() []float64 { return append([]float64(nil), s.resHistory...) }

// BottomIterHistory holds the bottom solver iterations of each iteration
func (s *Solver) BottomIterHistory() []int { return append([]int(nil), s.bottomHistory...) }

func (s *Solver) NumIters() int  { return s.numIters }
func (s *Solver) Status() Status { return s.status }
func (s *Solver) Timers() Timers { return s.timers }

// SolutionModes reports, per AMR level, whether the last solve worked on
// the caller's field or on a copy.
func (s *Solver) SolutionModes() []SolutionMode { return append([]SolutionMode(nil), s.modes...) }

// EffectiveBottomSolver is the bottom solver in use after fallbacks and
// permanent switches.
func (s *Solver) EffectiveBottomSolver() linop.BottomSolver { return s.bottom.kind() }
