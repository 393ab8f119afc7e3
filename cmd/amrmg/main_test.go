package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/amrmg/checkpoint"
	"github.com/notargets/amrmg/config"
)

// execute runs the root command with every flag back at its default
func execute(t *testing.T, args ...string) string {
	t.Helper()
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), solveCmd.Flags(), replayCmd.Flags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func smallProblem(t *testing.T) string {
	t.Helper()
	f := config.Default()
	f.Problem.N, f.Problem.MaxGridSize = 16, 8
	f.Problem.Levels = []config.Refinement{{
		Ratio:   2,
		Regions: []config.Region{{Lo: []int{8, 8}, Hi: []int{23, 23}}},
	}}
	f.TolRel = 1e-8
	path := filepath.Join(t.TempDir(), "solve.yaml")
	require.NoError(t, f.Save(path))
	return path
}

func TestSolveAndReplay(t *testing.T) {
	path := smallProblem(t)
	dir := filepath.Join(t.TempDir(), "chk")

	out := execute(t, "solve", "-c", path, "-v", "0", "--checkpoint", dir, "--metrics")
	assert.Contains(t, out, "status         converged")
	assert.Contains(t, out, `amrmg_mlmg_solves_total{status="converged"} 1`)
	assert.Contains(t, out, "max error")

	cp, err := checkpoint.Read(dir)
	require.NoError(t, err)
	assert.Contains(t, cp.Header.Annotations, problemKey)
	assert.Len(t, cp.Header.Levels, 2)

	out = execute(t, "replay", dir, "-v", "0")
	assert.Contains(t, out, "status         converged")
}

func TestSolveWritesTrace(t *testing.T) {
	path := smallProblem(t)
	trace := filepath.Join(t.TempDir(), "trace.json")
	execute(t, "solve", "-c", path, "-v", "0", "--trace", trace)

	data, err := os.ReadFile(trace)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mlmg.Solve")
	assert.Contains(t, string(data), "mlmg.BottomSolve")
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "amrmg dev\n", execute(t, "version"))
}
