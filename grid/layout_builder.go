package grid

import (
	"fmt"
	"math"
)

// LayoutBuilder constructs patch layouts by chopping regions of a domain
type LayoutBuilder struct {
	Domain Box

	// Chopping parameters
	MaxGridSize int // Longest patch side
	NumWorkers  int // Worker slots used for owner assignment
	Strategy    LayoutStrategy
}

// LayoutStrategy defines how patches are assigned to worker slots
type LayoutStrategy int

const (
	BlockOwners      LayoutStrategy = iota // Consecutive patches share a worker
	RoundRobinOwners                       // Distribute cyclically
)

// BuildLayout chops every region into tiles and assigns owners
func (lb *LayoutBuilder) BuildLayout(regions ...Box) (*Layout, error) {
	if len(regions) == 0 {
		regions = []Box{lb.Domain}
	}

	var boxes []Box
	for _, r := range regions {
		if !lb.Domain.ContainsBox(r) {
			return nil, fmt.Errorf("region %v outside domain %v", r, lb.Domain)
		}
		boxes = append(boxes, r.Chop(lb.MaxGridSize)...)
	}

	layout := &Layout{
		Domain: lb.Domain,
		Boxes:  boxes,
		Owners: lb.assignOwners(len(boxes)),
	}
	layout.MaxPatchCells = layout.calculateMaxPatchCells()

	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch layout: %w", err)
	}
	return layout, nil
}

// assignOwners maps patches to worker slots
func (lb *LayoutBuilder) assignOwners(numPatches int) []int {
	owners := make([]int, numPatches)
	nw := lb.NumWorkers
	if nw < 1 {
		nw = 1
	}

	switch lb.Strategy {
	case RoundRobinOwners:
		for p := range owners {
			owners[p] = p % nw
		}
	default:
		perWorker := int(math.Ceil(float64(numPatches) / float64(nw)))
		if perWorker < 1 {
			perWorker = 1
		}
		for p := range owners {
			owners[p] = min(p/perWorker, nw-1)
		}
	}
	return owners
}
