// Package config reads the YAML description of a solve: the Poisson test
// problem, the AMR hierarchy to pose it on, and the solver settings.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
	"github.com/notargets/amrmg/linop/poisson"
	"github.com/notargets/amrmg/mlmg"
)

var validate = validator.New()

// File is the top level of a solve configuration
type File struct {
	Problem Problem     `yaml:"problem"`
	Solver  mlmg.Config `yaml:"solver"`
	TolRel  float64     `yaml:"tol_rel" validate:"gt=0"`
	TolAbs  float64     `yaml:"tol_abs"`
}

// Problem describes alpha*u - beta*lap(u) = f on the square [0, Length]^2
// with an rhs whose exact solution is known.
type Problem struct {
	// N is the number of level 0 cells per side
	N           int     `yaml:"n" validate:"gte=4"`
	MaxGridSize int     `yaml:"max_grid_size" validate:"gte=2"`
	Length      float64 `yaml:"length" validate:"gt=0"`
	Workers     int     `yaml:"workers" validate:"gte=0"`

	Alpha float64 `yaml:"alpha" validate:"gte=0"`
	Beta  float64 `yaml:"beta" validate:"gt=0"`
	// BC applies to every domain side. The "cosine" rhs satisfies the
	// Neumann problem, "sine" the Dirichlet one.
	BC  string `yaml:"bc" validate:"oneof=dirichlet neumann"`
	RHS string `yaml:"rhs" validate:"oneof=sine cosine"`

	// Levels lists the finer AMR levels, coarsest first
	Levels []Refinement `yaml:"levels" validate:"dive"`
}

// Refinement is one AMR level above level 0
type Refinement struct {
	Ratio int `yaml:"ratio" validate:"oneof=2 4"`
	// Regions are in the index space of this level
	Regions []Region `yaml:"regions" validate:"min=1,dive"`
}

type Region struct {
	Lo []int `yaml:"lo" validate:"len=2"`
	Hi []int `yaml:"hi" validate:"len=2"`
}

func (r Region) Box() grid.Box { return grid.NewBox(r.Lo[0], r.Lo[1], r.Hi[0], r.Hi[1]) }

// Default is a 64x64 Dirichlet problem on one level
func Default() *File {
	return &File{
		Problem: Problem{
			N:           64,
			MaxGridSize: 32,
			Length:      1,
			Beta:        1,
			BC:          "dirichlet",
			RHS:         "sine",
		},
		Solver: mlmg.DefaultConfig(),
		TolRel: 1e-10,
		TolAbs: -1,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*File, error) {
	f := Default()
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if f.Problem.N%f.Problem.MaxGridSize != 0 {
		return fmt.Errorf("config: n %d is not a multiple of max_grid_size %d", f.Problem.N, f.Problem.MaxGridSize)
	}
	return nil
}

// Build poses the problem on its AMR hierarchy
func (p Problem) Build() (*poisson.Operator, error) {
	dom := grid.NewBox(0, 0, p.N-1, p.N-1)
	geom := grid.NewGeometry(dom, [grid.Dims]float64{}, p.Length)
	lb := grid.LayoutBuilder{Domain: dom, MaxGridSize: p.MaxGridSize, NumWorkers: p.Workers}
	l0, err := lb.BuildLayout()
	if err != nil {
		return nil, fmt.Errorf("config: level 0: %w", err)
	}

	layouts := []*grid.Layout{l0}
	var ratios []int
	for k, ref := range p.Levels {
		lb.Domain = lb.Domain.Refine(ref.Ratio)
		regions := make([]grid.Box, len(ref.Regions))
		for i, r := range ref.Regions {
			regions[i] = r.Box()
		}
		l, err := lb.BuildLayout(regions...)
		if err != nil {
			return nil, fmt.Errorf("config: level %d: %w", k+1, err)
		}
		layouts = append(layouts, l)
		ratios = append(ratios, ref.Ratio)
	}

	opts := poisson.DefaultOptions()
	opts.Alpha, opts.Beta = p.Alpha, p.Beta
	if p.BC == "neumann" {
		for d := 0; d < grid.Dims; d++ {
			opts.BCLo[d], opts.BCHi[d] = poisson.Neumann, poisson.Neumann
		}
	}
	if p.Workers > 0 {
		opts.Field = field.Config{Workers: p.Workers, Comm: field.SerialComm{}}
	}
	return poisson.New(geom, layouts, ratios, opts)
}

// Exact is the solution the rhs is manufactured from
func (p Problem) Exact() func(x, y float64) float64 {
	k := math.Pi / p.Length
	if p.RHS == "cosine" {
		return func(x, y float64) float64 { return math.Cos(k*x) * math.Cos(k*y) }
	}
	return func(x, y float64) float64 { return math.Sin(k*x) * math.Sin(k*y) }
}

// Source is the rhs of the problem
func (p Problem) Source() func(x, y float64) float64 {
	k := math.Pi / p.Length
	lambda := p.Alpha + 2*p.Beta*k*k
	u := p.Exact()
	return func(x, y float64) float64 { return lambda * u(x, y) }
}

// Fields allocates a zero solution and fills the rhs on every level of op
func (p Problem) Fields(op *poisson.Operator) (sol, rhs []*field.MultiFab) {
	f := p.Source()
	for a := 0; a < op.NumAMRLevels(); a++ {
		sol = append(sol, op.Make(a, 0, op.NumGhost()))
		r := op.Make(a, 0, 0)
		eachCell(op.Geometry(a, 0), r, func(fab *field.FAB, i, j int, x, y float64) {
			fab.Set(i, j, f(x, y))
		})
		rhs = append(rhs, r)
	}
	return sol, rhs
}

// MaxError is the largest difference between sol and the exact solution
// over the valid cells of every level. Neumann solutions are compared up
// to their mean on level 0.
func (p Problem) MaxError(op *poisson.Operator, sol []*field.MultiFab) float64 {
	u := p.Exact()
	shift := 0.0
	if op.IsSingular(0) {
		eachCell(op.Geometry(0, 0), sol[0], func(fab *field.FAB, i, j int, x, y float64) {
			shift += fab.At(i, j) - u(x, y)
		})
		shift /= float64(sol[0].NumPts())
	}
	worst := 0.0
	for a, mf := range sol {
		eachCell(op.Geometry(a, 0), mf, func(fab *field.FAB, i, j int, x, y float64) {
			worst = math.Max(worst, math.Abs(fab.At(i, j)-shift-u(x, y)))
		})
	}
	return worst
}

func eachCell(geom grid.Geometry, mf *field.MultiFab, fn func(fab *field.FAB, i, j int, x, y float64)) {
	for _, fab := range mf.Patches {
		b := fab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				x, y := geom.CellCenter(i, j)
				fn(fab, i, j, x, y)
			}
		}
	}
}
