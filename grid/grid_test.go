package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxCoarsenRefine(t *testing.T) {
	b := NewBox(4, 8, 11, 15)
	c := b.Coarsen(2)
	assert.Equal(t, NewBox(2, 4, 5, 7), c)
	assert.Equal(t, b, c.Refine(2))
	assert.True(t, b.CoarsenableBy(2, 2))
	assert.False(t, NewBox(0, 0, 2, 3).CoarsenableBy(2, 1), "odd length does not coarsen exactly")
	assert.False(t, NewBox(0, 0, 1, 1).CoarsenableBy(2, 2), "coarse box too narrow")

	// negative indices coarsen toward -inf
	assert.Equal(t, NewBox(-1, -1, 0, 0), NewBox(-2, -1, 1, 1).Coarsen(2))
}

func TestBoxChop(t *testing.T) {
	tests := []struct {
		name    string
		box     Box
		maxSize int
		want    int
	}{
		{"exact", NewBox(0, 0, 15, 15), 8, 4},
		{"remainder", NewBox(0, 0, 9, 3), 4, 3},
		{"unchopped", NewBox(0, 0, 3, 3), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles := tt.box.Chop(tt.maxSize)
			require.Len(t, tiles, tt.want)
			total := 0
			for _, tile := range tiles {
				total += tile.NumPts()
				assert.True(t, tt.box.ContainsBox(tile))
			}
			assert.Equal(t, tt.box.NumPts(), total)
		})
	}
}

func TestLayoutValidate(t *testing.T) {
	domain := NewBox(0, 0, 7, 7)

	_, err := NewLayout(domain, []Box{NewBox(0, 0, 3, 7), NewBox(4, 0, 7, 7)})
	require.NoError(t, err)

	_, err = NewLayout(domain, []Box{NewBox(0, 0, 4, 7), NewBox(4, 0, 7, 7)})
	assert.Error(t, err, "overlap must be rejected")

	_, err = NewLayout(domain, []Box{NewBox(0, 0, 8, 7)})
	assert.Error(t, err, "box outside domain must be rejected")

	_, err = NewLayout(domain, nil)
	assert.Error(t, err)
}

func TestLayoutFindAndCoarsen(t *testing.T) {
	l := MustLayout(NewBox(0, 0, 7, 7), NewBox(0, 0, 7, 7).Chop(4))
	assert.Equal(t, 4, l.NumPatches())
	assert.Equal(t, 64, l.NumPts())
	assert.Equal(t, 16, l.MaxPatchCells)
	assert.Equal(t, 3, l.Find(5, 6))
	assert.Equal(t, -1, l.Find(8, 0))

	assert.True(t, l.CoarsenableBy(2, 2))
	c := l.Coarsen(2)
	assert.Equal(t, NewBox(0, 0, 3, 3), c.Domain)
	assert.Equal(t, 4, c.MaxPatchCells)
	assert.False(t, c.CoarsenableBy(2, 2))
	assert.True(t, c.Refine(2).SameAs(l))
}

func TestLayoutBuilderOwners(t *testing.T) {
	lb := &LayoutBuilder{Domain: NewBox(0, 0, 15, 15), MaxGridSize: 4, NumWorkers: 3, Strategy: RoundRobinOwners}
	l, err := lb.BuildLayout()
	require.NoError(t, err)
	require.Equal(t, 16, l.NumPatches())
	for p, o := range l.Owners {
		assert.Equal(t, p%3, o)
	}

	lb.Strategy = BlockOwners
	l, err = lb.BuildLayout(NewBox(4, 4, 11, 11))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, l.Owners)

	_, err = lb.BuildLayout(NewBox(10, 10, 20, 20))
	assert.Error(t, err)
}

func TestGeometry(t *testing.T) {
	g := NewGeometry(NewBox(0, 0, 15, 15), [Dims]float64{0, 0}, 1.0)
	assert.InDelta(t, 1.0/16, g.Dx, 1e-15)
	x, y := g.CellCenter(0, 15)
	assert.InDelta(t, 0.5/16, x, 1e-15)
	assert.InDelta(t, 15.5/16, y, 1e-15)

	f := g.Refine(2)
	assert.Equal(t, NewBox(0, 0, 31, 31), f.Domain)
	x, _ = f.CellCenter(0, 0)
	assert.InDelta(t, 0.5/32, x, 1e-15)
	assert.Equal(t, g, f.Coarsen(2))
}
