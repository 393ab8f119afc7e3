package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/amrmg/fabio"
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
)

type solverSettings struct {
	MaxIters int    `yaml:"max_iters"`
	Bottom   string `yaml:"bottom"`
}

func levels() (sol, rhs []*field.MultiFab) {
	crse := grid.NewBox(0, 0, 7, 7)
	fine := grid.NewBox(4, 4, 11, 11)
	for a, lay := range []*grid.Layout{
		grid.MustLayout(crse, crse.Chop(4)),
		grid.MustLayout(crse.Refine(2), []grid.Box{fine}),
	} {
		s := field.NewMultiFab(lay, 1)
		r := field.NewMultiFab(lay, 0)
		for p := range s.Patches {
			for k := range s.Patches[p].Data {
				s.Patches[p].Data[k] = float64(a*1000 + p*100 + k)
			}
			r.Patches[p].Fill(0.5 * float64(p+a))
		}
		sol, rhs = append(sol, s), append(rhs, r)
	}
	return sol, rhs
}

func TestWriteRead(t *testing.T) {
	for _, opts := range []fabio.Options{{}, fabio.DefaultOptions()} {
		t.Run(opts.Format.String(), func(t *testing.T) {
			dir := t.TempDir()
			sol, rhs := levels()
			want := solverSettings{MaxIters: 50, Bottom: "bicgstab"}
			h, err := Write(dir, Inputs{
				TolRel: 1e-10, TolAbs: -1,
				Solver:      want,
				Sol:         sol,
				Rhs:         rhs,
				RefRatios:   []int{2},
				Annotations: map[string]string{"problem": "unit"},
				Fab:         opts,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, h.RunID)

			cp, err := Read(dir)
			require.NoError(t, err)
			assert.Equal(t, h.RunID, cp.Header.RunID)
			assert.Equal(t, 1e-10, cp.Header.TolRel)
			assert.Equal(t, -1.0, cp.Header.TolAbs)
			assert.Equal(t, 2, cp.Header.Levels[0].RefRatio)
			assert.Equal(t, "unit", cp.Header.Annotations["problem"])

			var got solverSettings
			require.NoError(t, cp.Header.DecodeSolver(&got))
			assert.Equal(t, want, got)

			require.Len(t, cp.Sol, 2)
			for a := range sol {
				assert.True(t, cp.Sol[a].Layout.SameAs(sol[a].Layout))
				assert.Equal(t, 1, cp.Sol[a].NGhost)
				assert.Equal(t, 0, cp.Rhs[a].NGhost)
				for p := range sol[a].Patches {
					if diff := cmp.Diff(sol[a].Patches[p].Data, cp.Sol[a].Patches[p].Data); diff != "" {
						t.Errorf("level %d patch %d sol mismatch (-want +got):\n%s", a, p, diff)
					}
					if diff := cmp.Diff(rhs[a].Patches[p].Data, cp.Rhs[a].Patches[p].Data); diff != "" {
						t.Errorf("level %d patch %d rhs mismatch (-want +got):\n%s", a, p, diff)
					}
				}
			}
		})
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	sol, rhs := levels()
	_, err := Write(dir, Inputs{Sol: sol, Rhs: rhs})
	require.NoError(t, err)

	path := filepath.Join(dir, "rhs_1.fab")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-2] = '7'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Read(dir)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestWriteRejectsMismatchedLevels(t *testing.T) {
	sol, rhs := levels()
	_, err := Write(t.TempDir(), Inputs{Sol: sol, Rhs: rhs[:1]})
	assert.Error(t, err)

	_, err = Read(t.TempDir())
	assert.Error(t, err)
}
