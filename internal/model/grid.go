package model

import (
	"context"
	"fmt"

	"hydrocycle/internal/remote"
)

// LookupMethod selects how a coordinate query resolves to a grid cell.
type LookupMethod string

const (
	// LookupNearest picks the cell with the smallest Euclidean distance in
	// coordinate space. Ties go to the first index in row-major order.
	LookupNearest LookupMethod = "nearest"
	// LookupExact requires the query to hit a cell coordinate exactly.
	LookupExact LookupMethod = "exact"
)

// Grid is the coordinate layout of one model variable, fetched once from the
// process and resolved locally.
type Grid struct {
	Rank  int
	Shape []int
	X     []float64 // longitudes
	Y     []float64 // latitudes
}

// FetchGrid loads the grid metadata for a variable.
func FetchGrid(ctx context.Context, b remote.Bmi, variable string) (*Grid, error) {
	id, err := b.GetVarGrid(ctx, variable)
	if err != nil {
		return nil, err
	}
	rank, err := b.GetGridRank(ctx, id)
	if err != nil {
		return nil, err
	}
	g := &Grid{Rank: rank}
	if rank > 1 {
		if g.Shape, err = b.GetGridShape(ctx, id); err != nil {
			return nil, err
		}
	}
	if g.X, err = b.GetGridX(ctx, id); err != nil {
		return nil, err
	}
	if g.Y, err = b.GetGridY(ctx, id); err != nil {
		return nil, err
	}
	return g, nil
}

// rectilinear grids carry one coordinate array per axis; unstructured grids
// carry one coordinate pair per cell.
func (g *Grid) rectilinear() bool {
	return g.Rank >= 2 && len(g.Shape) >= 2 &&
		len(g.Y) == g.Shape[0] && len(g.X) == g.Shape[1]
}

// ClosestIndex resolves a (lat, lon) query to a flattened cell index.
func (g *Grid) ClosestIndex(lat, lon float64, method LookupMethod) (int, error) {
	switch method {
	case LookupNearest, LookupExact:
	case "":
		method = LookupNearest
	default:
		return 0, fmt.Errorf("unknown lookup method %q", method)
	}

	best, bestDist := -1, 0.0
	consider := func(idx int, y, x float64) {
		dy, dx := lat-y, lon-x
		d := dy*dy + dx*dx
		if best < 0 || d < bestDist {
			best, bestDist = idx, d
		}
	}
	if g.rectilinear() {
		cols := g.Shape[1]
		for row, y := range g.Y {
			for col, x := range g.X {
				consider(row*cols+col, y, x)
			}
		}
	} else {
		if len(g.X) != len(g.Y) {
			return 0, fmt.Errorf("grid has %d x and %d y coordinates", len(g.X), len(g.Y))
		}
		for i := range g.X {
			consider(i, g.Y[i], g.X[i])
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("grid has no cells")
	}
	if method == LookupExact && bestDist != 0 {
		return 0, fmt.Errorf("no grid cell at exactly (%g, %g)", lat, lon)
	}
	return best, nil
}

// ClosestIndices resolves a batch of coordinate pairs.
func (g *Grid) ClosestIndices(lats, lons []float64, method LookupMethod) ([]int, error) {
	if len(lats) != len(lons) {
		return nil, fmt.Errorf("got %d latitudes for %d longitudes", len(lats), len(lons))
	}
	indices := make([]int, len(lats))
	for i := range lats {
		idx, err := g.ClosestIndex(lats[i], lons[i], method)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
	}
	return indices, nil
}
