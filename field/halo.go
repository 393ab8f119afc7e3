package field

import (
	"fmt"

	"github.com/notargets/amrmg/grid"
)

// HaloPlan holds pick and place indices for ghost exchange between the
// patches of one layout, built once and reused by every exchange.
type HaloPlan struct {
	NumPatches int
	NGhost     int

	// PickIndices[p][q]: offsets in patch q's data sent to patch p
	// PlaceIndices[p][q]: offsets in patch p's data receiving them
	PickIndices  [][]PickBuffer
	PlaceIndices [][]PlaceBuffer
}

// PickBuffer contains offsets gathered from a source patch
type PickBuffer struct {
	Indices     []int
	SourcePatch int
	TargetPatch int
}

// PlaceBuffer contains offsets scattered into a target patch
type PlaceBuffer struct {
	Indices     []int
	SourcePatch int
}

// NewHaloPlan builds the exchange plan for ng ghost layers over layout
func NewHaloPlan(layout *grid.Layout, ng int) *HaloPlan {
	np := len(layout.Boxes)
	hp := &HaloPlan{
		NumPatches:   np,
		NGhost:       ng,
		PickIndices:  make([][]PickBuffer, np),
		PlaceIndices: make([][]PlaceBuffer, np),
	}

	// Offsets are computed against FAB geometry so the plan matches every
	// field of this layout and ghost width.
	fabs := make([]*FAB, np)
	for p, b := range layout.Boxes {
		fabs[p] = &FAB{Box: b, NGhost: ng, stride: b.Grow(ng).Length(0), lo: b.Grow(ng).Lo}
	}

	for p, b := range layout.Boxes {
		grown := b.Grow(ng)
		for q, src := range layout.Boxes {
			if q == p {
				continue
			}
			r := grown.Intersect(src)
			if !r.Ok() {
				continue
			}
			pick := PickBuffer{SourcePatch: q, TargetPatch: p}
			place := PlaceBuffer{SourcePatch: q}
			for j := r.Lo[1]; j <= r.Hi[1]; j++ {
				for i := r.Lo[0]; i <= r.Hi[0]; i++ {
					pick.Indices = append(pick.Indices, fabs[q].Index(i, j))
					place.Indices = append(place.Indices, fabs[p].Index(i, j))
				}
			}
			hp.PickIndices[p] = append(hp.PickIndices[p], pick)
			hp.PlaceIndices[p] = append(hp.PlaceIndices[p], place)
		}
	}
	return hp
}

// Exchange fills the ghost cells of m from neighbouring valid data. Each
// target patch writes only its own ghosts and reads only valid cells, so
// patches proceed concurrently.
func (hp *HaloPlan) Exchange(m *MultiFab) {
	if len(m.Patches) != hp.NumPatches || m.NGhost != hp.NGhost {
		panic(fmt.Sprintf("field: halo plan for %d patches/%d ghosts used on %d/%d",
			hp.NumPatches, hp.NGhost, len(m.Patches), m.NGhost))
	}
	m.each(func(p int, fab *FAB) {
		for k, pick := range hp.PickIndices[p] {
			src := m.Patches[pick.SourcePatch].Data
			place := hp.PlaceIndices[p][k].Indices
			for n, idx := range pick.Indices {
				fab.Data[place[n]] = src[idx]
			}
		}
	})
}

// NumTransfers returns the total number of values moved by one exchange
func (hp *HaloPlan) NumTransfers() int {
	n := 0
	for p := range hp.PickIndices {
		for _, pick := range hp.PickIndices[p] {
			n += len(pick.Indices)
		}
	}
	return n
}

// Verify checks index validity and pick/place correspondence
func (hp *HaloPlan) Verify(layout *grid.Layout) error {
	if len(layout.Boxes) != hp.NumPatches {
		return fmt.Errorf("plan has %d patches, layout %d", hp.NumPatches, len(layout.Boxes))
	}
	sizes := make([]int, hp.NumPatches)
	for p, b := range layout.Boxes {
		sizes[p] = b.Grow(hp.NGhost).NumPts()
	}
	for p := 0; p < hp.NumPatches; p++ {
		if len(hp.PickIndices[p]) != len(hp.PlaceIndices[p]) {
			return fmt.Errorf("patch %d: %d pick buffers, %d place buffers",
				p, len(hp.PickIndices[p]), len(hp.PlaceIndices[p]))
		}
		for k, pick := range hp.PickIndices[p] {
			place := hp.PlaceIndices[p][k]
			if place.SourcePatch != pick.SourcePatch {
				return fmt.Errorf("patch %d buffer %d: source mismatch %d != %d",
					p, k, pick.SourcePatch, place.SourcePatch)
			}
			if len(pick.Indices) != len(place.Indices) {
				return fmt.Errorf("length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
					p, k, len(pick.Indices), p, k, len(place.Indices))
			}
			for _, idx := range pick.Indices {
				if idx < 0 || idx >= sizes[pick.SourcePatch] {
					return fmt.Errorf("invalid pick index %d for patch %d (max %d)",
						idx, pick.SourcePatch, sizes[pick.SourcePatch]-1)
				}
			}
			for _, idx := range place.Indices {
				if idx < 0 || idx >= sizes[p] {
					return fmt.Errorf("invalid place index %d for patch %d (max %d)",
						idx, p, sizes[p]-1)
				}
			}
		}
	}
	return nil
}
