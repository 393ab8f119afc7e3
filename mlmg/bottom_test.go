package mlmg

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notargets/amrmg/extsolve"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
	"github.com/notargets/amrmg/linop/poisson"
	"github.com/notargets/amrmg/metrics"
)

// ebOperator reports cut cells so the solver picks the ij interface
type ebOperator struct {
	*poisson.Operator
}

func (ebOperator) HasEmbeddedBoundary() bool { return true }

func hypreConfig() Config {
	cfg := quiet()
	cfg.BottomSolver = "hypre"
	return cfg
}

func TestExternalBottom(t *testing.T) {
	op := uniform(t, 32, 16, poisson.DefaultOptions())
	reg := extsolve.NewRegistry(extsolve.NewDirect(extsolve.KindHypre))
	s := newSolver(t, op, hypreConfig(), WithBackends(reg))
	require.Equal(t, linop.BottomHypre, s.EffectiveBottomSolver())

	sol, rhs := fields(op, 1, bump)
	_, err := s.Solve(sol, rhs, 1e-10, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
	for k, n := range s.BottomIterHistory() {
		assert.Equal(t, 1, n, "iteration %d", k+1)
	}

	// the factorization is dropped at the end of each solve and rebuilt
	sol, _ = fields(op, 1, nil)
	_, err = s.Solve(sol, rhs, 1e-10, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
}

func TestExternalBottomUnavailable(t *testing.T) {
	op := uniform(t, 16, 8, poisson.DefaultOptions())

	_, err := New(op, WithConfig(hypreConfig()))
	assert.ErrorIs(t, err, ErrBottomUnavailable)

	petsc := hypreConfig()
	petsc.BottomSolver = "petsc"
	reg := extsolve.NewRegistry(extsolve.NewDirect(extsolve.KindHypre))
	_, err = New(op, WithConfig(petsc), WithBackends(reg))
	assert.ErrorIs(t, err, ErrBottomUnavailable)
}

func TestExternalBottomInterface(t *testing.T) {
	op := uniform(t, 32, 16, poisson.DefaultOptions())
	reg := extsolve.NewRegistry(extsolve.NewDirect(extsolve.KindHypre, extsolve.InterfaceIJ))

	_, err := New(op, WithConfig(hypreConfig()), WithBackends(reg))
	assert.ErrorIs(t, err, ErrBottomUnavailable)

	core, logs := observer.New(zapcore.InfoLevel)
	s := newSolver(t, ebOperator{op}, hypreConfig(), WithBackends(reg), WithLogger(zap.New(core)))
	assert.Equal(t, 1, logs.FilterMessage("mlmg: embedded boundary operator, using the ij interface").Len())

	sol, rhs := fields(op, 1, bump)
	_, err = s.Solve(sol, rhs, 1e-10, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
}

func TestExternalBottomFallsBackToSmoother(t *testing.T) {
	rec := &recorder{Operator: uniform(t, 16, 8, poisson.DefaultOptions())}
	reg := extsolve.NewRegistry(extsolve.NewDirect(extsolve.KindHypre))
	core, logs := observer.New(zapcore.WarnLevel)

	s := newSolver(t, rec, hypreConfig(), WithBackends(reg), WithLogger(zap.New(core)))
	assert.Equal(t, linop.BottomSmoother, s.EffectiveBottomSolver())
	entries := logs.FilterMessage("mlmg: operator cannot assemble its bottom matrix, falling back to the smoother").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hypre", entries[0].ContextMap()["requested"])
}

func TestExternalBottomSingular(t *testing.T) {
	opts := poisson.DefaultOptions()
	opts.BCLo = [grid.Dims]poisson.BCType{poisson.Neumann, poisson.Neumann}
	opts.BCHi = opts.BCLo
	op := uniform(t, 32, 16, opts)
	reg := extsolve.NewRegistry(extsolve.NewDirect(extsolve.KindHypre))
	s := newSolver(t, op, hypreConfig(), WithBackends(reg))

	sol, rhs := fields(op, 1, neumannBump)
	_, err := s.Solve(sol, rhs, 1e-10, -1)
	assert.ErrorIs(t, err, ErrExternalSolve)
	assert.ErrorIs(t, err, extsolve.ErrSingular)
	var le *LevelError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, op.NumMGLevels(0)-1, le.MGLevel)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestNSolve(t *testing.T) {
	op := uniform(t, 32, 4, poisson.DefaultOptions())
	require.Equal(t, 2, op.NumMGLevels(0))

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	cfg := quiet()
	cfg.NSolve = true
	s := newSolver(t, op, cfg, WithTracerProvider(tp))
	assert.Equal(t, linop.BottomSmoother, s.EffectiveBottomSolver())

	sol, rhs := fields(op, 1, bump)
	_, err := s.Solve(sol, rhs, 1e-8, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
	for _, n := range s.BottomIterHistory() {
		assert.Equal(t, 1, n)
	}

	// the outer solve names the nested bottom; the inner one its smoother
	names := map[string]int{}
	for _, sp := range sr.Ended() {
		if sp.Name() == "mlmg.BottomSolve" {
			names[spanAttr(sp, "mlmg.bottom_solver")]++
		}
	}
	assert.Equal(t, s.NumIters(), names["nsolve"])
	assert.Positive(t, names["smoother"])
}

func TestNSolveUnsupported(t *testing.T) {
	rec := &recorder{Operator: uniform(t, 16, 8, poisson.DefaultOptions())}
	cfg := quiet()
	cfg.NSolve = true
	_, err := New(rec, WithConfig(cfg))
	assert.ErrorIs(t, err, ErrNSolveUnsupported)

	s := newSolver(t, rec, quiet())
	assert.ErrorIs(t, s.SetNSolve(true), ErrNSolveUnsupported)
	assert.False(t, s.Config().NSolve)
}

func TestBottomFailureIsNotFatal(t *testing.T) {
	c := metrics.NewCollector(nil)
	op := uniform(t, 32, 16, poisson.DefaultOptions())
	cfg := quiet()
	cfg.BottomMaxIter = 1
	cfg.BottomTolRel = 1e-12
	s := newSolver(t, op, cfg, WithMetrics(c))

	sol, rhs := fields(op, 1, bump)
	_, err := s.Solve(sol, rhs, 1e-8, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
	assert.Positive(t, testutil.ToFloat64(c.BottomFailuresTotal.WithLabelValues("bicgstab")))
}

func TestHybridBottom(t *testing.T) {
	for _, kind := range []linop.BottomSolver{linop.BottomCGBiCG, linop.BottomBiCGCG} {
		t.Run(kind.String(), func(t *testing.T) {
			op := uniform(t, 32, 16, poisson.DefaultOptions())
			cfg := quiet()
			cfg.BottomSolver = kind.String()
			s := newSolver(t, op, cfg)

			sol, rhs := fields(op, 1, bump)
			_, err := s.Solve(sol, rhs, 1e-10, -1)
			require.NoError(t, err)
			assert.Equal(t, StatusConverged, s.Status())
			// the primary method succeeds on an SPD problem
			assert.Equal(t, kind, s.EffectiveBottomSolver())
		})
	}
}

func TestOperatorDefaultBottom(t *testing.T) {
	opts := poisson.DefaultOptions()
	opts.Bottom = linop.BottomCG
	s := newSolver(t, uniform(t, 16, 8, opts), quiet())
	assert.Equal(t, linop.BottomCG, s.EffectiveBottomSolver())
}

func TestBottomVerbose(t *testing.T) {
	for _, v := range []int{0, 1} {
		op := uniform(t, 32, 16, poisson.DefaultOptions())
		core, logs := observer.New(zapcore.InfoLevel)
		cfg := quiet()
		cfg.BottomVerbose = v
		s := newSolver(t, op, cfg, WithLogger(zap.New(core)))

		sol, rhs := fields(op, 1, bump)
		_, err := s.Solve(sol, rhs, 1e-10, -1)
		require.NoError(t, err)
		n := logs.FilterMessage("mlmg: bottom krylov").Len()
		if v == 0 {
			assert.Zero(t, n)
			continue
		}
		assert.Equal(t, s.NumIters(), n)
	}
}
