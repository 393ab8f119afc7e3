package extsolve

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// DefaultCondLimit is the condition number above which Direct treats a
// matrix as singular.
const DefaultCondLimit = 1e14

// Direct is an in-process backend factorizing the bottom matrix with a
// dense LU. Bottom levels are small, so the dense factor is affordable.
type Direct struct {
	kind       Kind
	interfaces map[Interface]bool
	CondLimit  float64
}

var _ Backend = (*Direct)(nil)

// NewDirect returns a backend of the given kind; with no interfaces listed
// it supports all of them.
func NewDirect(kind Kind, ifaces ...Interface) *Direct {
	d := &Direct{kind: kind, interfaces: make(map[Interface]bool), CondLimit: DefaultCondLimit}
	if len(ifaces) == 0 {
		ifaces = []Interface{InterfaceStructured, InterfaceSemiStructured, InterfaceIJ}
	}
	for _, i := range ifaces {
		d.interfaces[i] = true
	}
	return d
}

func (d *Direct) Kind() Kind                     { return d.kind }
func (d *Direct) Supports(iface Interface) bool { return d.interfaces[iface] }

func (d *Direct) Setup(a *sparse.CSR, iface Interface) (Handle, error) {
	if !d.Supports(iface) {
		return nil, fmt.Errorf("extsolve: %v backend does not support the %v interface", d.kind, iface)
	}
	n, c := a.Dims()
	if n != c || n == 0 {
		return nil, fmt.Errorf("extsolve: matrix is %dx%d", n, c)
	}
	dense := mat.NewDense(n, n, nil)
	a.DoNonZero(func(i, j int, v float64) { dense.Set(i, j, v) })

	h := &directHandle{a: a, n: n}
	h.lu.Factorize(dense)
	if cond := h.lu.Cond(); math.IsInf(cond, 1) || math.IsNaN(cond) || cond > d.CondLimit {
		return nil, fmt.Errorf("%w: condition number %g", ErrSingular, cond)
	}
	return h, nil
}

type directHandle struct {
	a  *sparse.CSR
	n  int
	lu mat.LU
}

func (h *directHandle) Solve(x, b []float64) error {
	if len(x) != h.n || len(b) != h.n {
		return fmt.Errorf("extsolve: vectors of length %d, %d for a system of %d", len(x), len(b), h.n)
	}
	xv := mat.NewVecDense(h.n, x)
	if err := h.lu.SolveVecTo(xv, false, mat.NewVecDense(h.n, append([]float64(nil), b...))); err != nil {
		return fmt.Errorf("extsolve: lu solve: %w", err)
	}
	return nil
}

func (h *directHandle) Release() { h.a = nil }
