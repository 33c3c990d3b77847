package layout

import (
	"math"
	"math/rand"
	"sort"
)

// buildTestIndex runs the sequential front half of an iteration: bounds, codes,
// sort, tree construction. Returns the store and the populated index.
func buildTestIndex(set *PointSet) (*pointStore, *spatialIndex) {
	ps := newPointStore(set)
	n := ps.len()
	t := newSpatialIndex(n)
	t.init(ps.boundsOf(0, n))
	for i := 0; i < n; i++ {
		ps.code[i] = t.codeOf(ps.x[i], ps.y[i])
	}
	sort.Sort(&pointSorter{ps: ps, lo: 0, hi: n})
	for i := 0; i < n; i++ {
		ps.inv[ps.id[i]] = int32(i)
	}
	newIndexBuilder(t).build(ps)
	return ps, t
}

// randomPointSet scatters n points uniformly over a side x side square.
func randomPointSet(n int, side float64, seed int64) *PointSet {
	rng := rand.New(rand.NewSource(seed))
	set := &PointSet{
		X:    make([]float64, n),
		Y:    make([]float64, n),
		Size: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		set.X[i] = rng.Float64() * side
		set.Y[i] = rng.Float64() * side
		set.Size[i] = 1
	}
	return set
}

// bruteForceStep computes one exact iteration of the force model on the
// original point order: all-pairs repulsion, edge springs, then the clamped
// position update. It mirrors the engine's formulas without any approximation.
func bruteForceStep(set *PointSet, opts Options, temperature float64) {
	n := set.Len()
	fx := make([]float64, n)
	fy := make([]float64, n)
	eps := opts.Softening

	size := func(i int) float64 {
		if i < len(set.Size) && set.Size[i] > 0 {
			return set.Size[i]
		}
		return 1
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := set.X[i] - set.X[j]
			dy := set.Y[i] - set.Y[j]
			d2 := dx*dx + dy*dy
			dist := math.Sqrt(d2)
			if dist == 0 {
				continue
			}
			f := opts.RepulsionStrength / (d2 + eps*eps) * size(i) * size(j)
			ux, uy := dx/dist, dy/dist
			fx[i] += ux * f
			fy[i] += uy * f
			fx[j] -= ux * f
			fy[j] -= uy * f
		}
	}

	for _, e := range set.Edges {
		a, b := int(e.Source), int(e.Target)
		dx := set.X[a] - set.X[b]
		dy := set.Y[a] - set.Y[b]
		dist := math.Hypot(dx, dy)
		if dist == 0 {
			continue
		}
		l := e.Length
		if l <= 0 {
			l = 1
		}
		f := opts.EdgeStiffness * dist * dist / l
		ux, uy := dx/dist, dy/dist
		fx[a] -= ux * f
		fy[a] -= uy * f
		fx[b] += ux * f
		fy[b] += uy * f
	}

	for i := 0; i < n; i++ {
		d := math.Hypot(fx[i], fy[i])
		if d == 0 {
			continue
		}
		step := math.Min(d, temperature)
		set.X[i] += fx[i] / d * step
		set.Y[i] += fy[i] / d * step
	}
}

// subtreeSlots returns the sorted-array slot set covered by node v.
func subtreeSlots(t *spatialIndex, v int32) map[int32]bool {
	nd := t.node(v)
	out := make(map[int32]bool, nd.pointCount)
	for i := nd.firstPoint; i < nd.firstPoint+nd.pointCount; i++ {
		out[i] = true
	}
	return out
}
