// Package extsolve is the narrow capability through which the bottom level
// of a multigrid solve is handed to a sparse solver package: assemble a
// matrix once, then solve it for many right-hand sides.
package extsolve

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
)

// ErrSingular is returned by Setup when the matrix cannot be factorized
var ErrSingular = errors.New("extsolve: singular matrix")

// Kind names the sparse solver family a backend stands in for
type Kind uint8

const (
	KindHypre Kind = iota
	KindPETSc
)

func (k Kind) String() string {
	switch k {
	case KindHypre:
		return "hypre"
	case KindPETSc:
		return "petsc"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Interface is the matrix interface a backend is driven through
type Interface uint8

const (
	InterfaceStructured Interface = iota
	InterfaceSemiStructured
	InterfaceIJ
)

func (i Interface) String() string {
	switch i {
	case InterfaceStructured:
		return "structured"
	case InterfaceSemiStructured:
		return "semi-structured"
	case InterfaceIJ:
		return "ij"
	}
	return fmt.Sprintf("Interface(%d)", uint8(i))
}

// Backend assembles and solves sparse systems
type Backend interface {
	Kind() Kind
	Supports(iface Interface) bool
	// Setup prepares a handle for repeated solves with a
	Setup(a *sparse.CSR, iface Interface) (Handle, error)
}

// Handle solves a prepared system
type Handle interface {
	// Solve sets x to the solution of A*x = b
	Solve(x, b []float64) error
	Release()
}

// Matrix accumulates entries of a square matrix
type Matrix struct {
	n   int
	dok *sparse.DOK
}

func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, dok: sparse.NewDOK(n, n)}
}

// Add adds v to entry (i,j)
func (m *Matrix) Add(i, j int, v float64) {
	m.dok.Set(i, j, m.dok.At(i, j)+v)
}

func (m *Matrix) Dim() int { return m.n }

func (m *Matrix) NNZ() int { return m.dok.NNZ() }

// CSR converts the accumulated entries to compressed rows
func (m *Matrix) CSR() *sparse.CSR { return m.dok.ToCSR() }

// Residual returns max |b - A*x|
func Residual(a *sparse.CSR, x, b []float64) float64 {
	r := append([]float64(nil), b...)
	a.DoNonZero(func(i, j int, v float64) {
		r[i] -= v * x[j]
	})
	m := 0.0
	for _, v := range r {
		if v < 0 {
			v = -v
		}
		m = max(m, v)
	}
	return m
}

// Registry holds the backends available to a solver. It is passed
// explicitly; there is no process-wide registry.
type Registry struct {
	backends map[Kind]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[Kind]Backend)}
	for _, b := range backends {
		r.backends[b.Kind()] = b
	}
	return r
}

// Lookup returns the backend of kind k. A nil registry holds nothing.
func (r *Registry) Lookup(k Kind) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.backends[k]
	return b, ok
}
