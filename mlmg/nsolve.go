package mlmg

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop"
)

// nestedBottom re-poses the bottom level on a layout of NSolveGridSize
// patches, which coarsens further than the original patches allow, and
// solves it with an inner Solver. The inner solver is built on first use
// and dropped by release.
type nestedBottom struct {
	s        *Solver
	provider linop.NSolveProvider

	inner    *Solver
	sol, rhs *field.MultiFab
}

func (nb *nestedBottom) kind() linop.BottomSolver { return linop.BottomSmoother }

// nsolveConfig is the configuration of the inner solver
func nsolveConfig() Config {
	cfg := DefaultConfig()
	cfg.Verbose = 0
	cfg.FixedIters = 1
	cfg.MaxFmgIters = 20
	cfg.BottomSolver = linop.BottomSmoother.String()
	return cfg
}

func (nb *nestedBottom) build() error {
	s := nb.s
	dom := s.op.Layout(0, s.bottomMGLevel()).Domain
	lb := grid.LayoutBuilder{Domain: dom, MaxGridSize: s.cfg.NSolveGridSize}
	layout, err := lb.BuildLayout()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNSolveUnsupported, err)
	}
	nsop, err := nb.provider.NSolveOperator(layout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNSolveUnsupported, err)
	}

	inner := &Solver{
		op:     nsop,
		cfg:    nsolveConfig(),
		log:    s.log.Named("nsolve"),
		tracer: s.tracer,
		nested: true,
		status: StatusNotRun,
	}
	if inner.bottom, err = inner.resolveBottom(); err != nil {
		return err
	}
	nb.inner = inner
	nb.sol = nsop.Make(0, 0, nsop.NumGhost())
	nb.rhs = nsop.Make(0, 0, 0)
	if s.cfg.Verbose >= 2 {
		s.log.Info("mlmg: nested solve built",
			zap.Int("patches", layout.NumPatches()),
			zap.Int("mg_levels", nsop.NumMGLevels(0)))
	}
	return nil
}

func (nb *nestedBottom) solve(x, b *field.MultiFab) (int, error) {
	if nb.inner == nil {
		if err := nb.build(); err != nil {
			return 0, err
		}
	}
	nb.rhs.SetVal(0)
	field.ParallelCopy(nb.rhs, b)
	nb.sol.SetVal(0)
	if _, err := nb.inner.SolveContext(nb.s.ctx, []*field.MultiFab{nb.sol}, []*field.MultiFab{nb.rhs}, -1, -1); err != nil {
		return 0, fmt.Errorf("nested solve: %w", err)
	}
	x.SetVal(0)
	field.ParallelCopy(x, nb.sol)
	return nb.inner.NumIters(), nil
}

func (nb *nestedBottom) release() {
	nb.inner, nb.sol, nb.rhs = nil, nil, nil
}
