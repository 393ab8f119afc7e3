package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	f := Default()
	require.NoError(t, f.Validate())
	assert.Equal(t, 64, f.Problem.N)
	assert.Equal(t, 200, f.Solver.MaxIters)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "solve.yaml")
	f := Default()
	f.Problem.BC, f.Problem.RHS = "neumann", "cosine"
	f.Problem.Levels = []Refinement{{
		Ratio:   2,
		Regions: []Region{{Lo: []int{32, 32}, Hi: []int{95, 95}}},
	}}
	f.Solver.BottomSolver = "cg"
	f.TolRel = 1e-8
	require.NoError(t, f.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(f, loaded); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solve.yaml")
	doc := "problem:\n  n: 32\n  max_grid_size: 16\nsolver:\n  max_iters: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Problem.N)
	assert.Equal(t, "dirichlet", f.Problem.BC)
	assert.Equal(t, 50, f.Solver.MaxIters)
	assert.Equal(t, 8, f.Solver.FinalSmooth)
	assert.Equal(t, 1e-10, f.TolRel)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"bad bc":     "problem:\n  bc: periodic\n",
		"bad solver": "solver:\n  bottom_solver: lu\n",
		"bad grid":   "problem:\n  n: 48\n  max_grid_size: 32\n",
		"bad region": "problem:\n  levels:\n    - ratio: 2\n      regions:\n        - lo: [0]\n          hi: [7, 7]\n",
		"bad ratio":  "problem:\n  levels:\n    - ratio: 3\n      regions:\n        - lo: [0, 0]\n          hi: [7, 7]\n",
		"not yaml":   "problem: [",
		"no tol":     "tol_rel: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "solve.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
}

func TestBuild(t *testing.T) {
	p := Default().Problem
	p.N, p.MaxGridSize = 32, 16
	p.Levels = []Refinement{{
		Ratio:   2,
		Regions: []Region{{Lo: []int{16, 16}, Hi: []int{47, 47}}},
	}}
	op, err := p.Build()
	require.NoError(t, err)
	require.Equal(t, 2, op.NumAMRLevels())
	assert.Equal(t, 2, op.RefRatio(0))
	assert.Equal(t, 4, op.Layout(1, 0).NumPatches())
	assert.False(t, op.IsSingular(0))

	sol, rhs := p.Fields(op)
	require.Len(t, sol, 2)
	assert.Equal(t, op.NumGhost(), sol[1].NGhost)

	// cell (0,0) of level 0 is centred at (1/64, 1/64)
	x := 1.0 / 64
	want := 2 * math.Pi * math.Pi * math.Sin(math.Pi*x) * math.Sin(math.Pi*x)
	assert.InDelta(t, want, rhs[0].Patches[0].At(0, 0), 1e-12)

	// the zero solution is off by the peak of the exact one
	assert.InDelta(t, 1, p.MaxError(op, sol), 0.01)
}

func TestBuildRejectsEscapingRegion(t *testing.T) {
	p := Default().Problem
	p.Levels = []Refinement{{
		Ratio:   2,
		Regions: []Region{{Lo: []int{100, 100}, Hi: []int{200, 200}}},
	}}
	_, err := p.Build()
	assert.Error(t, err)
}

func TestNeumannProblem(t *testing.T) {
	p := Default().Problem
	p.N, p.MaxGridSize = 16, 8
	p.BC, p.RHS = "neumann", "cosine"
	op, err := p.Build()
	require.NoError(t, err)
	assert.True(t, op.IsSingular(0))

	// a constant offset does not count as error
	sol, _ := p.Fields(op)
	u := p.Exact()
	for _, fab := range sol[0].Patches {
		b := fab.Box
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			for i := b.Lo[0]; i <= b.Hi[0]; i++ {
				fab.Set(i, j, u(op.Geometry(0, 0).CellCenter(i, j))+5)
			}
		}
	}
	assert.InDelta(t, 0, p.MaxError(op, sol), 1e-12)
}
