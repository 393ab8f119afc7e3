package field

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/amrmg/grid"
)

// Config controls how a MultiFab executes patch loops and reductions
type Config struct {
	Workers int  // Concurrent patch goroutines; 0 means GOMAXPROCS
	Comm    Comm // Reduction combiner; nil means SerialComm
}

// DefaultConfig returns the serial-communication, all-cores configuration
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0), Comm: SerialComm{}}
}

// MultiFab is a field container: one FAB per patch of a layout
type MultiFab struct {
	Layout  *grid.Layout
	IxType  grid.IndexType
	NGhost  int
	Patches []*FAB

	cfg   Config
	order []int // patch visit order, grouped by owner

	planOnce sync.Once
	plan     *HaloPlan
}

// NewMultiFab allocates a zeroed cell-centred field over layout
func NewMultiFab(layout *grid.Layout, ng int) *MultiFab {
	return NewMultiFabWith(layout, grid.CellCentered, ng, DefaultConfig())
}

// NewMultiFabWith allocates a zeroed field of the given index type
func NewMultiFabWith(layout *grid.Layout, ix grid.IndexType, ng int, cfg Config) *MultiFab {
	if layout == nil {
		panic("field: layout cannot be nil")
	}
	if ix != grid.CellCentered && ng != 0 {
		panic("field: face-centred fields carry no ghost cells")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Comm == nil {
		cfg.Comm = SerialComm{}
	}
	mf := &MultiFab{
		Layout:  layout,
		IxType:  ix,
		NGhost:  ng,
		Patches: make([]*FAB, len(layout.Boxes)),
		cfg:     cfg,
	}
	for p, b := range layout.Boxes {
		switch ix {
		case grid.FaceX:
			b = b.SurroundingFaces(0)
		case grid.FaceY:
			b = b.SurroundingFaces(1)
		}
		mf.Patches[p] = NewFAB(b, ng)
	}
	mf.order = ownerOrder(layout)
	return mf
}

// NewLike allocates a zeroed field with the same layout, type, and config
// as src but ng ghost cells.
func NewLike(src *MultiFab, ng int) *MultiFab {
	return NewMultiFabWith(src.Layout, src.IxType, ng, src.cfg)
}

// Config returns the execution configuration of the field
func (m *MultiFab) Config() Config { return m.cfg }

func ownerOrder(layout *grid.Layout) []int {
	order := make([]int, len(layout.Boxes))
	for i := range order {
		order[i] = i
	}
	if len(layout.Owners) == len(order) {
		sort.SliceStable(order, func(a, b int) bool {
			return layout.Owners[order[a]] < layout.Owners[order[b]]
		})
	}
	return order
}

// ForEachPatch runs fn over every patch concurrently, bounded by Workers.
// It returns the first error any call returned.
func (m *MultiFab) ForEachPatch(fn func(p int, fab *FAB) error) error {
	if len(m.Patches) == 1 || m.cfg.Workers == 1 {
		for _, p := range m.order {
			if err := fn(p, m.Patches[p]); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, p := range m.order {
		g.Go(func() error { return fn(p, m.Patches[p]) })
	}
	return g.Wait()
}

// each is ForEachPatch for infallible kernels
func (m *MultiFab) each(fn func(p int, fab *FAB)) {
	_ = m.ForEachPatch(func(p int, fab *FAB) error {
		fn(p, fab)
		return nil
	})
}

func (m *MultiFab) mustMatch(o *MultiFab, op string) {
	if !m.Layout.SameAs(o.Layout) || m.IxType != o.IxType {
		panic(fmt.Sprintf("field: %s on incompatible fields (%d vs %d patches, %v vs %v)",
			op, len(m.Patches), len(o.Patches), m.IxType, o.IxType))
	}
}

func region(fab *FAB, ng, limit int) grid.Box {
	return fab.Box.Grow(min(ng, limit))
}

// rows applies fn to the matching row slices of dst and src over the valid
// box grown by ng (clamped to both ghost widths).
func rows(dst, src *FAB, ng int, fn func(d, s []float64)) {
	r := region(dst, ng, min(dst.NGhost, src.NGhost))
	for j := r.Lo[1]; j <= r.Hi[1]; j++ {
		fn(dst.Row(j, r.Lo[0], r.Hi[0]), src.Row(j, r.Lo[0], r.Hi[0]))
	}
}

// SetVal sets every value, ghosts included
func (m *MultiFab) SetVal(v float64) {
	m.each(func(_ int, fab *FAB) { fab.Fill(v) })
}

// Copy sets dst = src over valid cells and ng ghost layers
func Copy(dst, src *MultiFab, ng int) {
	dst.mustMatch(src, "Copy")
	dst.each(func(p int, fab *FAB) {
		rows(fab, src.Patches[p], ng, func(d, s []float64) { copy(d, s) })
	})
}

// Add sets dst += src
func Add(dst, src *MultiFab, ng int) {
	dst.mustMatch(src, "Add")
	dst.each(func(p int, fab *FAB) {
		rows(fab, src.Patches[p], ng, func(d, s []float64) { floats.Add(d, s) })
	})
}

// Subtract sets dst -= src
func Subtract(dst, src *MultiFab, ng int) {
	Saxpy(dst, -1, src, ng)
}

// Saxpy sets dst += a*src
func Saxpy(dst *MultiFab, a float64, src *MultiFab, ng int) {
	dst.mustMatch(src, "Saxpy")
	dst.each(func(p int, fab *FAB) {
		rows(fab, src.Patches[p], ng, func(d, s []float64) { floats.AddScaled(d, a, s) })
	})
}

// Xpay sets dst = src + a*dst
func Xpay(dst *MultiFab, a float64, src *MultiFab, ng int) {
	dst.mustMatch(src, "Xpay")
	dst.each(func(p int, fab *FAB) {
		rows(fab, src.Patches[p], ng, func(d, s []float64) {
			floats.Scale(a, d)
			floats.Add(d, s)
		})
	})
}

// LinComb sets dst = a*x + b*y
func LinComb(dst *MultiFab, a float64, x *MultiFab, b float64, y *MultiFab, ng int) {
	dst.mustMatch(x, "LinComb")
	dst.mustMatch(y, "LinComb")
	dst.each(func(p int, fab *FAB) {
		xf, yf := x.Patches[p], y.Patches[p]
		r := region(fab, ng, min(fab.NGhost, xf.NGhost, yf.NGhost))
		for j := r.Lo[1]; j <= r.Hi[1]; j++ {
			d := fab.Row(j, r.Lo[0], r.Hi[0])
			floats.ScaleTo(d, a, xf.Row(j, r.Lo[0], r.Hi[0]))
			floats.AddScaled(d, b, yf.Row(j, r.Lo[0], r.Hi[0]))
		}
	})
}

// Scale multiplies valid cells and ng ghost layers by a
func (m *MultiFab) Scale(a float64, ng int) {
	m.each(func(_ int, fab *FAB) {
		r := region(fab, ng, fab.NGhost)
		for j := r.Lo[1]; j <= r.Hi[1]; j++ {
			floats.Scale(a, fab.Row(j, r.Lo[0], r.Hi[0]))
		}
	})
}

// Plus adds the constant v to valid cells
func (m *MultiFab) Plus(v float64) {
	m.each(func(_ int, fab *FAB) {
		for j := fab.Box.Lo[1]; j <= fab.Box.Hi[1]; j++ {
			floats.AddConst(v, fab.Row(j, fab.Box.Lo[0], fab.Box.Hi[0]))
		}
	})
}

// reduce evaluates part on every patch and combines the partials in patch
// order so the result does not depend on scheduling.
func (m *MultiFab) reduce(part func(fab *FAB, p int) float64, combine func(a, b float64) float64, init float64) float64 {
	partials := make([]float64, len(m.Patches))
	m.each(func(p int, fab *FAB) { partials[p] = part(fab, p) })
	acc := init
	for _, v := range partials {
		acc = combine(acc, v)
	}
	return acc
}

// Dot returns the inner product of x and y over valid cells
func Dot(x, y *MultiFab, local bool) float64 {
	x.mustMatch(y, "Dot")
	s := x.reduce(func(fab *FAB, p int) float64 {
		yf := y.Patches[p]
		acc := 0.0
		for j := fab.Box.Lo[1]; j <= fab.Box.Hi[1]; j++ {
			acc += floats.Dot(fab.Row(j, fab.Box.Lo[0], fab.Box.Hi[0]), yf.Row(j, fab.Box.Lo[0], fab.Box.Hi[0]))
		}
		return acc
	}, func(a, b float64) float64 { return a + b }, 0)
	if local {
		return s
	}
	return x.cfg.Comm.AllReduceSum(s)
}

// Sum returns the sum over valid cells
func (m *MultiFab) Sum(local bool) float64 {
	s := m.reduce(func(fab *FAB, _ int) float64 {
		acc := 0.0
		for j := fab.Box.Lo[1]; j <= fab.Box.Hi[1]; j++ {
			acc += floats.Sum(fab.Row(j, fab.Box.Lo[0], fab.Box.Hi[0]))
		}
		return acc
	}, func(a, b float64) float64 { return a + b }, 0)
	if local {
		return s
	}
	return m.cfg.Comm.AllReduceSum(s)
}

// NumPts returns the number of valid cells
func (m *MultiFab) NumPts() int {
	n := 0
	for _, fab := range m.Patches {
		n += fab.Box.NumPts()
	}
	return n
}

// NormInf returns max |v| over valid cells, skipping cells where mask is
// false when a mask is given.
func (m *MultiFab) NormInf(mask *Mask, local bool) float64 {
	if mask != nil && len(mask.bits) != len(m.Patches) {
		panic("field: mask does not match field layout")
	}
	n := m.reduce(func(fab *FAB, p int) float64 {
		acc := 0.0
		b := fab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			row := fab.Row(j, b.Lo[0], b.Hi[0])
			if mask == nil {
				acc = math.Max(acc, floats.Norm(row, math.Inf(1)))
				continue
			}
			for k, v := range row {
				if mask.at(p, b.Lo[0]+k, j) {
					acc = math.Max(acc, math.Abs(v))
				}
			}
		}
		return acc
	}, math.Max, 0)
	if local {
		return n
	}
	return m.cfg.Comm.AllReduceMax(n)
}

// ContainsNaN reports whether any valid or ng ghost value is NaN
func (m *MultiFab) ContainsNaN(ng int) bool {
	return m.reduce(func(fab *FAB, _ int) float64 {
		if fab.ContainsNaN(region(fab, ng, fab.NGhost)) {
			return 1
		}
		return 0
	}, math.Max, 0) > 0
}

// ContainsInf reports whether any valid or ng ghost value is ±Inf
func (m *MultiFab) ContainsInf(ng int) bool {
	return m.reduce(func(fab *FAB, _ int) float64 {
		if fab.ContainsInf(region(fab, ng, fab.NGhost)) {
			return 1
		}
		return 0
	}, math.Max, 0) > 0
}

// FillBoundary copies valid data of neighbouring patches into ghost cells.
// Ghost cells not covered by any patch are left untouched.
func (m *MultiFab) FillBoundary() {
	if m.NGhost == 0 || len(m.Patches) < 2 {
		return
	}
	m.planOnce.Do(func() { m.plan = NewHaloPlan(m.Layout, m.NGhost) })
	m.plan.Exchange(m)
}

// ParallelCopy copies src into dst wherever their valid regions overlap.
// The layouts may differ but must index the same space.
func ParallelCopy(dst, src *MultiFab) {
	if dst.IxType != src.IxType {
		panic("field: ParallelCopy between different index types")
	}
	dst.each(func(_ int, fab *FAB) {
		for _, sfab := range src.Patches {
			r := fab.Box.Intersect(sfab.Box)
			if !r.Ok() {
				continue
			}
			for j := r.Lo[1]; j <= r.Hi[1]; j++ {
				copy(fab.Row(j, r.Lo[0], r.Hi[0]), sfab.Row(j, r.Lo[0], r.Hi[0]))
			}
		}
	})
}

// AverageFaceToCell sets the valid cells of dst to the mean of the two
// faces of src bounding each cell in the direction src is centred on.
func AverageFaceToCell(dst, src *MultiFab) {
	dir := 0
	switch src.IxType {
	case grid.FaceX:
	case grid.FaceY:
		dir = 1
	default:
		panic("field: AverageFaceToCell needs a face-centred source")
	}
	if dst.IxType != grid.CellCentered || !dst.Layout.SameAs(src.Layout) {
		panic(fmt.Sprintf("field: AverageFaceToCell into a %v field", dst.IxType))
	}
	di, dj := 1-dir, dir
	dst.each(func(p int, fab *FAB) {
		sf := src.Patches[p]
		b := fab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				fab.Set(i, j, 0.5*(sf.At(i, j)+sf.At(i+di, j+dj)))
			}
		}
	})
}
