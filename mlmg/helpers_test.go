package mlmg

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
	"github.com/notargets/amrmg/linop/poisson"
)

// uniform is a single-level operator on an n x n unit square
func uniform(t *testing.T, n, maxGrid int, opts poisson.Options) *poisson.Operator {
	t.Helper()
	dom := grid.NewBox(0, 0, n-1, n-1)
	lb := grid.LayoutBuilder{Domain: dom, MaxGridSize: maxGrid, NumWorkers: 2}
	l, err := lb.BuildLayout()
	require.NoError(t, err)
	op, err := poisson.New(grid.NewGeometry(dom, [2]float64{}, 1), []*grid.Layout{l}, nil, opts)
	require.NoError(t, err)
	return op
}

// twoLevel refines the centre of a 32x32 domain by 2
func twoLevel(t *testing.T, opts poisson.Options) *poisson.Operator {
	t.Helper()
	dom := grid.NewBox(0, 0, 31, 31)
	crse := grid.MustLayout(dom, dom.Chop(16))
	fine := grid.MustLayout(dom.Refine(2), grid.NewBox(16, 16, 47, 47).Chop(16))
	op, err := poisson.New(grid.NewGeometry(dom, [2]float64{}, 1), []*grid.Layout{crse, fine}, []int{2}, opts)
	require.NoError(t, err)
	return op
}

func bump(x, y float64) float64 {
	return 2 * math.Pi * math.Pi * math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
}

func neumannBump(x, y float64) float64 {
	return math.Cos(math.Pi*x) * math.Cos(math.Pi*y)
}

func setFunc(op linop.Operator, a int, mf *field.MultiFab, fn func(x, y float64) float64) {
	geom := op.Geometry(a, 0)
	for _, fab := range mf.Patches {
		b := fab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				fab.Set(i, j, fn(geom.CellCenter(i, j)))
			}
		}
	}
}

// fields allocates a zero solution with ng ghosts and an rhs from fn on
// every AMR level; a nil fn leaves the rhs zero.
func fields(op linop.Operator, ng int, fn func(x, y float64) float64) (sol, rhs []*field.MultiFab) {
	for a := 0; a < op.NumAMRLevels(); a++ {
		sol = append(sol, op.Make(a, 0, ng))
		r := op.Make(a, 0, 0)
		if fn != nil {
			setFunc(op, a, r, fn)
		}
		rhs = append(rhs, r)
	}
	return sol, rhs
}

func quiet() Config {
	cfg := DefaultConfig()
	cfg.Verbose = 0
	return cfg
}

func newSolver(t *testing.T, op linop.Operator, cfg Config, opts ...Option) *Solver {
	t.Helper()
	s, err := New(op, append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return s
}

// recorder logs the operator calls the engine makes. Embedding the
// interface hides the optional capabilities of the wrapped operator.
type recorder struct {
	linop.Operator
	calls []string
}

func (r *recorder) log(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) Smooth(a, m int, x, b *field.MultiFab, n int) {
	r.log("Smooth %d %d", a, m)
	r.Operator.Smooth(a, m, x, b, n)
}

func (r *recorder) Restrict(a, m int, crse, fine *field.MultiFab) {
	r.log("Restrict %d %d", a, m)
	r.Operator.Restrict(a, m, crse, fine)
}

func (r *recorder) Interpolate(a, m int, fine, crse *field.MultiFab) {
	r.log("Interpolate %d %d", a, m)
	r.Operator.Interpolate(a, m, fine, crse)
}

func (r *recorder) InterpAssign(a, m int, fine, crse *field.MultiFab) {
	r.log("InterpAssign %d %d", a, m)
	r.Operator.InterpAssign(a, m, fine, crse)
}

func (r *recorder) InterpolationAMR(a int, fine, crse *field.MultiFab) {
	r.log("InterpolationAMR %d", a)
	r.Operator.InterpolationAMR(a, fine, crse)
}

func (r *recorder) AvgDownResMG(m int, cres, fres *field.MultiFab) {
	r.log("AvgDownResMG %d", m)
	r.Operator.AvgDownResMG(m, cres, fres)
}

func (r *recorder) SolutionResidual(a int, res, x, b, crse *field.MultiFab) {
	r.log("SolutionResidual %d", a)
	r.Operator.SolutionResidual(a, res, x, b, crse)
}

func (r *recorder) CorrectionResidual(a, m int, res, x, b *field.MultiFab, bc linop.BCMode, crse *field.MultiFab) {
	r.log("CorrectionResidual %d %d %v", a, m, bc)
	r.Operator.CorrectionResidual(a, m, res, x, b, bc, crse)
}

func (r *recorder) Reflux(c int, cres, crseSol, fineSol *field.MultiFab) {
	r.log("Reflux %d", c)
	r.Operator.Reflux(c, cres, crseSol, fineSol)
}

func (r *recorder) FillSolutionBC(a int, x, crse *field.MultiFab) {
	r.log("FillSolutionBC %d", a)
	r.Operator.FillSolutionBC(a, x, crse)
}

func (r *recorder) AverageDownAndSync(sol []*field.MultiFab) {
	r.log("AverageDownAndSync")
	r.Operator.AverageDownAndSync(sol)
}

func (r *recorder) reset() { r.calls = r.calls[:0] }

func (r *recorder) count(prefix string) int {
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// first returns the index of the first call with prefix, or -1
func (r *recorder) first(prefix string) int {
	for k, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return k
		}
	}
	return -1
}

func (r *recorder) last(prefix string) int {
	for k := len(r.calls) - 1; k >= 0; k-- {
		if strings.HasPrefix(r.calls[k], prefix) {
			return k
		}
	}
	return -1
}

// countingBottom counts dispatches to the wrapped strategy
type countingBottom struct {
	bottomStrategy
	n int
}

func (cb *countingBottom) solve(x, b *field.MultiFab) (int, error) {
	cb.n++
	return cb.bottomStrategy.solve(x, b)
}

// amplifier scales every smoothed field so the cycle blows up
type amplifier struct {
	linop.Operator
	gain float64
}

func (am amplifier) Smooth(a, m int, x, b *field.MultiFab, n int) {
	am.Operator.Smooth(a, m, x, b, n)
	x.Scale(am.gain, 0)
}

// spanAttr returns the string value of key on sp
func spanAttr(sp sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range sp.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}
