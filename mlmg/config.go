package mlmg

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notargets/amrmg/extsolve"
	"github.com/notargets/amrmg/metrics"
)

var validate = validator.New()

// Config holds the solver knobs. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	Verbose     int `yaml:"verbose" validate:"gte=0,lte=4"`
	MaxIters    int `yaml:"max_iters" validate:"gte=1"`
	MaxFmgIters int `yaml:"max_fmg_iters" validate:"gte=0"`
	// FixedIters > 0 caps the solve at that many cycles and disables stall
	// detection; the tolerance test still ends it early.
	FixedIters int `yaml:"fixed_iters" validate:"gte=0"`

	PreSmooth    int `yaml:"pre_smooth" validate:"gte=0"`    // nu1
	PostSmooth   int `yaml:"post_smooth" validate:"gte=0"`   // nu2
	FinalSmooth  int `yaml:"final_smooth" validate:"gte=0"`  // nuf
	BottomSmooth int `yaml:"bottom_smooth" validate:"gte=0"` // nub

	BottomSolver  string  `yaml:"bottom_solver" validate:"oneof=default smoother bicgstab cg cgbicg bicgcg hypre petsc"`
	BottomMaxIter int     `yaml:"bottom_max_iter" validate:"gte=1"`
	BottomTolRel  float64 `yaml:"bottom_tol_rel" validate:"gte=0"`
	BottomTolAbs  float64 `yaml:"bottom_tol_abs"`
	BottomVerbose int     `yaml:"bottom_verbose" validate:"gte=0,lte=4"`
	// ExternalInterface is the matrix interface used with hypre or petsc
	ExternalInterface string `yaml:"external_interface" validate:"oneof=structured semi-structured ij"`

	AlwaysUseBNorm bool `yaml:"always_use_bnorm"`
	FinalFillBC    bool `yaml:"final_fill_bc"`

	NSolve         bool `yaml:"nsolve"`
	NSolveGridSize int  `yaml:"nsolve_grid_size" validate:"gte=2"`

	StallIters int     `yaml:"stall_iters" validate:"gte=1"`
	StallRatio float64 `yaml:"stall_ratio" validate:"gt=0,lte=1"`

	// CheckpointDir, when set, receives the solve inputs before iterating
	CheckpointDir string `yaml:"checkpoint_dir,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Verbose:           1,
		MaxIters:          200,
		PreSmooth:         2,
		PostSmooth:        2,
		FinalSmooth:       8,
		BottomSolver:      "default",
		BottomMaxIter:     200,
		BottomTolRel:      1e-4,
		BottomTolAbs:      -1,
		ExternalInterface: "structured",
		NSolveGridSize:    16,
		StallIters:        5,
		StallRatio:        0.99,
	}
}

// Validate checks every field against its bounds
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) externalInterface() extsolve.Interface {
	switch c.ExternalInterface {
	case "semi-structured":
		return extsolve.InterfaceSemiStructured
	case "ij":
		return extsolve.InterfaceIJ
	}
	return extsolve.InterfaceStructured
}

// Option configures a Solver at construction
type Option func(*Solver)

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(s *Solver) { s.cfg = cfg }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Solver) {
		if log != nil {
			s.log = log
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Solver) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Solver) { s.metrics = c }
}

// WithBackends makes external bottom solvers available
func WithBackends(r *extsolve.Registry) Option {
	return func(s *Solver) { s.backends = r }
}

// WithAnnotations adds entries to the header of every checkpoint written
func WithAnnotations(kv map[string]string) Option {
	return func(s *Solver) {
		if s.annotations == nil {
			s.annotations = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			s.annotations[k] = v
		}
	}
}
