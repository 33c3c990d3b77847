package layout

import "math"

// Edge is a pairwise attraction constraint between two points, identified by
// their indices in the PointSet, with the desired rest length of the spring.
type Edge struct {
	Source int32
	Target int32
	Length float64
}

// PointSet is the flat input structure the engine consumes: per-point
// position and size plus the edge list. It is produced by an external adapter
// from an attributed graph, and positions are written back into it when a run
// finishes.
type PointSet struct {
	X, Y  []float64
	Size  []float64
	Edges []Edge
}

// Len returns the number of points.
func (s *PointSet) Len() int { return len(s.X) }

// bounds is an axis-aligned bounding box.
type bounds struct {
	minX, minY float64
	maxX, maxY float64
}

func emptyBounds() bounds {
	return bounds{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
}

func (b *bounds) extend(o bounds) {
	b.minX = math.Min(b.minX, o.minX)
	b.minY = math.Min(b.minY, o.minY)
	b.maxX = math.Max(b.maxX, o.maxX)
	b.maxY = math.Max(b.maxY, o.maxY)
}

// pointStore owns the engine's working copy of the point set. Points are kept
// in Morton-sorted order during an iteration; id maps a sorted slot back to
// the original PointSet index and inv is the inverse permutation, rebuilt
// after every sort so edge endpoints can be resolved to current slots.
//
// All slices are allocated once per Run and reused across iterations.
type pointStore struct {
	x, y  []float64
	size  []float64
	id    []int32
	code  []uint64
	inv   []int32
	edges []Edge

	// sort scratch, same length as the point arrays
	tmpX, tmpY, tmpSize []float64
	tmpID               []int32
	tmpCode             []uint64
}

// newPointStore copies the input set into working arrays in identity order.
func newPointStore(set *PointSet) *pointStore {
	n := set.Len()
	ps := &pointStore{
		x:       make([]float64, n),
		y:       make([]float64, n),
		size:    make([]float64, n),
		id:      make([]int32, n),
		code:    make([]uint64, n),
		inv:     make([]int32, n),
		edges:   set.Edges,
		tmpX:    make([]float64, n),
		tmpY:    make([]float64, n),
		tmpSize: make([]float64, n),
		tmpID:   make([]int32, n),
		tmpCode: make([]uint64, n),
	}
	copy(ps.x, set.X)
	copy(ps.y, set.Y)
	for i := 0; i < n; i++ {
		ps.size[i] = 1
		if i < len(set.Size) && set.Size[i] > 0 {
			ps.size[i] = set.Size[i]
		}
		ps.id[i] = int32(i)
		ps.inv[i] = int32(i)
	}
	return ps
}

func (ps *pointStore) len() int { return len(ps.x) }

// boundsOf computes the bounding box of the slot range [begin, end).
func (ps *pointStore) boundsOf(begin, end int) bounds {
	b := emptyBounds()
	for i := begin; i < end; i++ {
		if ps.x[i] < b.minX {
			b.minX = ps.x[i]
		}
		if ps.x[i] > b.maxX {
			b.maxX = ps.x[i]
		}
		if ps.y[i] < b.minY {
			b.minY = ps.y[i]
		}
		if ps.y[i] > b.maxY {
			b.maxY = ps.y[i]
		}
	}
	return b
}

// less is the sort order: Morton code first, original index as tie break so
// the sorted sequence is identical regardless of worker count.
func (ps *pointStore) less(i, j int) bool {
	if ps.code[i] != ps.code[j] {
		return ps.code[i] < ps.code[j]
	}
	return ps.id[i] < ps.id[j]
}

func (ps *pointStore) swap(i, j int) {
	ps.x[i], ps.x[j] = ps.x[j], ps.x[i]
	ps.y[i], ps.y[j] = ps.y[j], ps.y[i]
	ps.size[i], ps.size[j] = ps.size[j], ps.size[i]
	ps.id[i], ps.id[j] = ps.id[j], ps.id[i]
	ps.code[i], ps.code[j] = ps.code[j], ps.code[i]
}

// mergeRuns merges the two sorted runs [lo, mid) and [mid, hi) through the
// scratch arrays and copies the result back.
func (ps *pointStore) mergeRuns(lo, mid, hi int) {
	i, j, k := lo, mid, lo
	for i < mid && j < hi {
		if ps.less(j, i) {
			ps.copySlot(k, j, true)
			j++
		} else {
			ps.copySlot(k, i, true)
			i++
		}
		k++
	}
	for i < mid {
		ps.copySlot(k, i, true)
		i++
		k++
	}
	for j < hi {
		ps.copySlot(k, j, true)
		j++
		k++
	}
	copy(ps.x[lo:hi], ps.tmpX[lo:hi])
	copy(ps.y[lo:hi], ps.tmpY[lo:hi])
	copy(ps.size[lo:hi], ps.tmpSize[lo:hi])
	copy(ps.id[lo:hi], ps.tmpID[lo:hi])
	copy(ps.code[lo:hi], ps.tmpCode[lo:hi])
}

// copySlot copies slot src into slot dst; toScratch selects the scratch
// arrays as destination.
func (ps *pointStore) copySlot(dst, src int, toScratch bool) {
	if toScratch {
		ps.tmpX[dst] = ps.x[src]
		ps.tmpY[dst] = ps.y[src]
		ps.tmpSize[dst] = ps.size[src]
		ps.tmpID[dst] = ps.id[src]
		ps.tmpCode[dst] = ps.code[src]
		return
	}
	ps.x[dst] = ps.tmpX[src]
	ps.y[dst] = ps.tmpY[src]
	ps.size[dst] = ps.tmpSize[src]
	ps.id[dst] = ps.tmpID[src]
	ps.code[dst] = ps.tmpCode[src]
}

// writeBack copies current positions to the original PointSet order.
func (ps *pointStore) writeBack(set *PointSet) {
	for i := range ps.x {
		set.X[ps.id[i]] = ps.x[i]
		set.Y[ps.id[i]] = ps.y[i]
	}
}

// pointSorter adapts pointStore to sort.Interface over a slot range.
type pointSorter struct {
	ps     *pointStore
	lo, hi int
}

func (s *pointSorter) Len() int           { return s.hi - s.lo }
func (s *pointSorter) Less(i, j int) bool { return s.ps.less(s.lo+i, s.lo+j) }
func (s *pointSorter) Swap(i, j int)      { s.ps.swap(s.lo+i, s.lo+j) }
