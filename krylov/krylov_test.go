package krylov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
	"github.com/notargets/amrmg/linop/poisson"
)

// levelSystem is the homogeneous operator of one level
type levelSystem struct {
	op linop.Operator
}

func (s levelSystem) MatVec(dst, src *field.MultiFab) {
	s.op.Apply(0, 0, dst, src, linop.Homogeneous, linop.Correction, nil)
}

func (s levelSystem) New() *field.MultiFab { return s.op.Make(0, 0, s.op.NumGhost()) }

func (s levelSystem) precondition(dst, src *field.MultiFab) { s.op.Precondition(0, 0, dst, src) }

type zeroSystem struct{ levelSystem }

func (zeroSystem) MatVec(dst, _ *field.MultiFab) { dst.SetVal(0) }

func newSystem(t *testing.T, alpha float64) levelSystem {
	t.Helper()
	dom := grid.NewBox(0, 0, 15, 15)
	opts := poisson.DefaultOptions()
	opts.Alpha = alpha
	op, err := poisson.New(grid.NewGeometry(dom, [2]float64{}, 1), []*grid.Layout{grid.MustLayout(dom, dom.Chop(8))}, nil, opts)
	require.NoError(t, err)
	return levelSystem{op: op}
}

func residual(sys System, x, b *field.MultiFab) float64 {
	r := sys.New()
	sys.MatVec(r, x)
	field.Xpay(r, -1, b, 0)
	return r.NormInf(nil, false)
}

func TestMethodsConverge(t *testing.T) {
	sys := newSystem(t, 0)
	b := sys.New()
	b.SetVal(1)
	r0 := b.NormInf(nil, false)

	methods := []struct {
		name   string
		method func() Method
		pre    bool
	}{
		{"cg", func() Method { return &CG{} }, false},
		{"pcg", func() Method { return &CG{} }, true},
		{"bicgstab", func() Method { return &BiCGStab{} }, false},
		{"pbicgstab", func() Method { return &BiCGStab{} }, true},
	}
	iters := map[string]int{}
	for _, tc := range methods {
		t.Run(tc.name, func(t *testing.T) {
			x := sys.New()
			settings := Settings{TolRel: 1e-10, TolAbs: -1, MaxIterations: 500}
			if tc.pre {
				settings.PSolve = sys.precondition
			}
			stats, err := Solve(sys, x, b, tc.method(), settings)
			require.NoError(t, err)
			assert.LessOrEqual(t, stats.ResidualNorm, 1e-10*r0)
			assert.LessOrEqual(t, residual(sys, x, b), 1e-9*r0)
			assert.Positive(t, stats.Iterations)
			if tc.pre {
				assert.Equal(t, stats.PSolve, stats.MatVec-1)
			}
			iters[tc.name] = stats.Iterations
		})
	}
	assert.Less(t, iters["pcg"], iters["cg"], "smoother preconditioning pays")
}

func TestZeroResidualSkipsIteration(t *testing.T) {
	sys := newSystem(t, 1)
	x, b := sys.New(), sys.New()
	stats, err := Solve(sys, x, b, &BiCGStab{}, Settings{TolRel: 1e-4, TolAbs: -1})
	require.NoError(t, err)
	assert.Zero(t, stats.Iterations)
	assert.Equal(t, 1, stats.MatVec)
}

func TestAbsoluteTolerance(t *testing.T) {
	sys := newSystem(t, 1)
	x, b := sys.New(), sys.New()
	b.SetVal(1)
	stats, err := Solve(sys, x, b, &CG{}, Settings{TolRel: 0, TolAbs: 1e-3})
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.ResidualNorm, 1e-3)
	assert.Greater(t, stats.ResidualNorm, 1e-12, "stops at the absolute target")
}

func TestIterationLimitKeepsBestIterate(t *testing.T) {
	sys := newSystem(t, 0)
	x, b := sys.New(), sys.New()
	b.SetVal(1)
	r0 := residual(sys, x, b)
	stats, err := Solve(sys, x, b, &BiCGStab{}, Settings{TolRel: 1e-14, TolAbs: -1, MaxIterations: 20})
	assert.ErrorIs(t, err, ErrIterationLimit)
	assert.Equal(t, 20, stats.Iterations)
	rn := residual(sys, x, b)
	assert.Less(t, rn, r0)
	assert.InDelta(t, stats.ResidualNorm, rn, 1e-9*r0)
}

func TestBreakdownRestoresGuess(t *testing.T) {
	sys := zeroSystem{newSystem(t, 0)}
	x, b := sys.New(), sys.New()
	b.SetVal(1)
	x.SetVal(0)
	_, err := Solve(sys, x, b, &CG{}, Settings{TolRel: 1e-8, TolAbs: -1})
	assert.ErrorIs(t, err, ErrBreakdown)
	assert.Zero(t, x.NormInf(nil, false))

	_, err = Solve(sys, x, b, &BiCGStab{}, Settings{TolRel: 1e-8, TolAbs: -1})
	assert.ErrorIs(t, err, ErrBreakdown)
	assert.Zero(t, x.NormInf(nil, false))
}

func TestMethodValueIsReusable(t *testing.T) {
	sys := newSystem(t, 1)
	b := sys.New()
	b.SetVal(1)
	for _, m := range []Method{&CG{}, &BiCGStab{}} {
		var iters []int
		for range 2 {
			x := sys.New()
			stats, err := Solve(sys, x, b, m, Settings{TolRel: 1e-10, TolAbs: -1, PSolve: sys.precondition})
			require.NoError(t, err)
			assert.LessOrEqual(t, residual(sys, x, b), 1e-9)
			iters = append(iters, stats.Iterations)
		}
		assert.Equal(t, iters[0], iters[1], "%T", m)
	}
}
