package layout

import (
	"math"
	"math/bits"
	"sort"
)

const (
	// minimum points per partition, so large pools over small inputs do
	// not degenerate into per-point partitions
	minPartitionChunk = 16
	// below this size the parallel sort is not worth its merge passes
	sortParallelCutoff = 2048
	// forceBlocks is the fixed number of force-accumulation buffers. Pair
	// and edge lists are split at these block boundaries rather than per
	// worker, and the apply phase sums blocks in index order, so each
	// point's force is the same floating-point sum at any thread count.
	forceBlocks = 16
)

// span is a half-open index range into a flat array, used to statically
// assign disjoint work to workers.
type span struct {
	begin, end int
}

// blockPartitions splits [0, n) into one contiguous span per worker. Worker 0
// receives the remainder on top of the common chunk.
func blockPartitions(n, parties int, out []span) {
	chunk := n / parties
	if chunk < minPartitionChunk {
		chunk = minPartitionChunk
	}
	if chunk > n {
		chunk = n
	}
	rem := n - chunk*parties
	if rem < 0 {
		rem = 0
	}
	pos := 0
	for i := 0; i < parties; i++ {
		sz := chunk
		if i == 0 {
			sz += rem
		}
		if pos+sz > n {
			sz = n - pos
		}
		out[i] = span{pos, pos + sz}
		pos += sz
	}
}

// sliceSpan is the plain equal split used for pair and edge lists.
func sliceSpan(total, parties, id int) span {
	return span{id * total / parties, (id + 1) * total / parties}
}

// IterationStats describes one completed simulation iteration.
type IterationStats struct {
	Iteration          int
	MaxDisplacement    float64
	AvgDisplacement    float64
	WellSeparatedPairs int
	DirectPairs        int
	DirectNodes        int
	TreeNodes          int
}

// forceKernel is the per-iteration SPMD body. One instance is shared by all
// workers of a run; per-worker state lives in the indexed slices, and every
// phase boundary is a barrier Sync. Cross-partition force writes go through
// the block-indexed buffers: every list block has exactly one owning worker,
// and the application phase reduces the blocks in fixed index order strictly
// within each worker's own point partition.
type forceKernel struct {
	e          *Engine
	ps         *pointStore
	t          *spatialIndex
	builder    *indexBuilder
	decomposer *pairDecomposer

	// set by the engine before each runKernel call
	temperature float64

	pointParts []span
	localBound []bounds
	localSum   []float64
	localMax   []float64

	// force accumulators indexed by list block, not by worker, so the
	// reduction order is independent of the thread count; pointF* hold
	// absolute forces, nodeF* hold per-unit-size subtree aggregates pushed
	// down in the apply phase
	pointFX, pointFY [][]float64
	nodeFX, nodeFY   [][]float64

	stats IterationStats
}

func newForceKernel(e *Engine, set *PointSet) *forceKernel {
	n := set.Len()
	p := e.opts.Threads
	k := &forceKernel{
		e:          e,
		ps:         newPointStore(set),
		t:          newSpatialIndex(n),
		pointParts: make([]span, p),
		localBound: make([]bounds, p),
		localSum:   make([]float64, p),
		localMax:   make([]float64, p),
		pointFX:    make([][]float64, forceBlocks),
		pointFY:    make([][]float64, forceBlocks),
		nodeFX:     make([][]float64, forceBlocks),
		nodeFY:     make([][]float64, forceBlocks),
	}
	k.builder = newIndexBuilder(k.t)
	k.decomposer = newPairDecomposer(k.t, e.opts.Separation, int32(e.opts.DirectThreshold))
	nodeCap := 2*n + 4
	for b := 0; b < forceBlocks; b++ {
		k.pointFX[b] = make([]float64, n)
		k.pointFY[b] = make([]float64, n)
		k.nodeFX[b] = make([]float64, nodeCap)
		k.nodeFY[b] = make([]float64, nodeCap)
	}
	blockPartitions(n, p, k.pointParts)
	return k
}

// run is the SPMD body executed by every worker once per iteration.
func (k *forceKernel) run(w *worker) {
	id := w.id
	my := k.pointParts[id]

	// Bounding box reduction and grid setup.
	k.localBound[id] = k.ps.boundsOf(my.begin, my.end)
	w.Sync()
	if id == 0 {
		g := emptyBounds()
		for _, b := range k.localBound {
			g.extend(b)
		}
		k.t.init(g)
	}
	w.Sync()

	// Morton codes for the owned partition, then the global sort.
	for i := my.begin; i < my.end; i++ {
		k.ps.code[i] = k.t.codeOf(k.ps.x[i], k.ps.y[i])
	}
	w.Sync()
	k.parallelSort(w)
	w.Sync()

	// Points moved slots: rebuild the inverse permutation so edges can be
	// resolved, and wipe the owned point-force blocks.
	for i := my.begin; i < my.end; i++ {
		k.ps.inv[k.ps.id[i]] = int32(i)
	}
	myBlocks := sliceSpan(forceBlocks, k.e.opts.Threads, id)
	for b := myBlocks.begin; b < myBlocks.end; b++ {
		clear(k.pointFX[b])
		clear(k.pointFY[b])
	}
	w.Sync()

	// Index construction, sequential baseline by worker 0; the tree is
	// read-only input for the rest of the iteration.
	if id == 0 {
		k.builder.build(k.ps)
	}
	w.Sync()

	// Pair decomposition by worker 0 while the others size and wipe the
	// node blocks they own for the new tree.
	if id == 0 {
		k.decomposer.decompose()
	}
	for b := myBlocks.begin; b < myBlocks.end; b++ {
		k.ensureNodeBuffers(b)
	}
	w.Sync()

	// Force evaluation into the worker's owned blocks only.
	k.evalWellSeparated(id)
	k.evalDirectPairs(id)
	k.evalDirectNodes(id)
	k.evalEdges(id)
	w.Sync()

	// Application and position update, strictly inside the owned point
	// partition.
	k.applyAndUpdate(id, my)
	w.Sync()

	if id == 0 {
		k.reduceStats()
	}
}

// parallelSort sorts the point array by Morton code. With a power-of-two
// worker count each worker sorts one block and designated workers merge
// pairwise, doubling the run length per level; otherwise worker 0 sorts
// sequentially. The branch depends only on shared state, so every worker
// takes the same path and the barrier counts line up.
func (k *forceKernel) parallelSort(w *worker) {
	n := k.ps.len()
	p := k.e.opts.Threads
	if p == 1 || n < sortParallelCutoff || bits.OnesCount(uint(p)) != 1 {
		if w.id == 0 {
			sort.Sort(&pointSorter{ps: k.ps, lo: 0, hi: n})
		}
		return
	}

	boundary := func(i int) int { return i * n / p }
	sort.Sort(&pointSorter{ps: k.ps, lo: boundary(w.id), hi: boundary(w.id + 1)})
	for width := 2; width <= p; width <<= 1 {
		w.Sync()
		if w.id%width == 0 {
			k.ps.mergeRuns(boundary(w.id), boundary(w.id+width/2), boundary(w.id+width))
		}
	}
}

// ensureNodeBuffers sizes one block's node-force buffers for the freshly
// built tree and zeroes them. Capacity is pre-sized for 2n nodes, so this
// normally just reslices.
func (k *forceKernel) ensureNodeBuffers(b int) {
	nn := k.t.numNodes()
	if cap(k.nodeFX[b]) < nn {
		k.nodeFX[b] = make([]float64, nn)
		k.nodeFY[b] = make([]float64, nn)
		return
	}
	k.nodeFX[b] = k.nodeFX[b][:nn]
	k.nodeFY[b] = k.nodeFY[b][:nn]
	clear(k.nodeFX[b])
	clear(k.nodeFY[b])
}

// repulsion returns the pairwise repulsive force magnitude for two unit-size
// bodies at squared distance d2. Coincident bodies are softened by the
// additive epsilon rather than treated as an error.
func (k *forceKernel) repulsion(d2 float64) float64 {
	eps := k.e.opts.Softening
	return k.e.opts.RepulsionStrength / (d2 + eps*eps)
}

// evalWellSeparated applies one aggregate interaction per pair: each side's
// centroid acts on the other side's whole subtree through the node buffers.
// The pair list is walked by fixed blocks, each block accumulating into its
// own buffer.
func (k *forceKernel) evalWellSeparated(id int) {
	blocks := sliceSpan(forceBlocks, k.e.opts.Threads, id)
	for b := blocks.begin; b < blocks.end; b++ {
		s := sliceSpan(len(k.t.wsPairs), forceBlocks, b)
		fx, fy := k.nodeFX[b], k.nodeFY[b]
		for _, pr := range k.t.wsPairs[s.begin:s.end] {
			na, nb := k.t.node(pr.a), k.t.node(pr.b)
			ax := na.sumX / float64(na.pointCount)
			ay := na.sumY / float64(na.pointCount)
			bx := nb.sumX / float64(nb.pointCount)
			by := nb.sumY / float64(nb.pointCount)
			dx := ax - bx
			dy := ay - by
			d2 := dx*dx + dy*dy
			dist := math.Sqrt(d2)
			if dist == 0 {
				continue
			}
			f := k.repulsion(d2)
			ux, uy := dx/dist, dy/dist
			// per-unit-size force; the apply phase scales by point size
			fx[pr.a] += ux * f * nb.sumSize
			fy[pr.a] += uy * f * nb.sumSize
			fx[pr.b] -= ux * f * na.sumSize
			fy[pr.b] -= uy * f * na.sumSize
		}
	}
}

// evalDirectPairs expands failed pairs to brute-force pointwise evaluation
// across the two slot ranges.
func (k *forceKernel) evalDirectPairs(id int) {
	blocks := sliceSpan(forceBlocks, k.e.opts.Threads, id)
	for b := blocks.begin; b < blocks.end; b++ {
		s := sliceSpan(len(k.t.directPairs), forceBlocks, b)
		for _, pr := range k.t.directPairs[s.begin:s.end] {
			na, nb := k.t.node(pr.a), k.t.node(pr.b)
			for i := na.firstPoint; i < na.firstPoint+na.pointCount; i++ {
				for j := nb.firstPoint; j < nb.firstPoint+nb.pointCount; j++ {
					k.pointRepulsion(b, int(i), int(j))
				}
			}
		}
	}
}

// evalDirectNodes evaluates the internal pairs of leaves holding multiple
// points.
func (k *forceKernel) evalDirectNodes(id int) {
	blocks := sliceSpan(forceBlocks, k.e.opts.Threads, id)
	for b := blocks.begin; b < blocks.end; b++ {
		s := sliceSpan(len(k.t.directNodes), forceBlocks, b)
		for _, v := range k.t.directNodes[s.begin:s.end] {
			nd := k.t.node(v)
			for i := nd.firstPoint; i < nd.firstPoint+nd.pointCount; i++ {
				for j := i + 1; j < nd.firstPoint+nd.pointCount; j++ {
					k.pointRepulsion(b, int(i), int(j))
				}
			}
		}
	}
}

// pointRepulsion accumulates the pairwise repulsive force between slots i and
// j into block b's point buffers, pushing both endpoints apart.
func (k *forceKernel) pointRepulsion(b, i, j int) {
	ps := k.ps
	dx := ps.x[i] - ps.x[j]
	dy := ps.y[i] - ps.y[j]
	d2 := dx*dx + dy*dy
	dist := math.Sqrt(d2)
	if dist == 0 {
		// Exactly coincident points exert no force on each other this
		// iteration; neighbors and edge forces pull them apart.
		return
	}
	f := k.repulsion(d2) * ps.size[i] * ps.size[j]
	ux, uy := dx/dist, dy/dist
	k.pointFX[b][i] += ux * f
	k.pointFY[b][i] += uy * f
	k.pointFX[b][j] -= ux * f
	k.pointFY[b][j] -= uy * f
}

// evalEdges adds the attractive spring force of the owned blocks of the edge
// list, with the per-edge desired length as the spring constant.
func (k *forceKernel) evalEdges(id int) {
	ps := k.ps
	blocks := sliceSpan(forceBlocks, k.e.opts.Threads, id)
	for b := blocks.begin; b < blocks.end; b++ {
		s := sliceSpan(len(ps.edges), forceBlocks, b)
		for _, e := range ps.edges[s.begin:s.end] {
			a := ps.inv[e.Source]
			c := ps.inv[e.Target]
			dx := ps.x[a] - ps.x[c]
			dy := ps.y[a] - ps.y[c]
			dist := math.Hypot(dx, dy)
			if dist == 0 {
				continue
			}
			l := e.Length
			if l <= 0 {
				l = 1
			}
			f := k.e.opts.EdgeStiffness * dist * dist / l
			ux, uy := dx/dist, dy/dist
			k.pointFX[b][a] -= ux * f
			k.pointFY[b][a] -= uy * f
			k.pointFX[b][c] += ux * f
			k.pointFY[b][c] += uy * f
		}
	}
}

// applyAndUpdate reduces the block buffers for the owned partition and moves
// the points, clamped by the current temperature. Blocks are summed in index
// order, which together with the fixed block boundaries makes every point's
// force identical at any thread count. A point's repulsive aggregate is the
// sum of the node buffers along its leaf-to-root chain, scaled by its own
// size.
func (k *forceKernel) applyAndUpdate(id int, my span) {
	ps := k.ps
	sumD, maxD := 0.0, 0.0
	for i := my.begin; i < my.end; i++ {
		fx, fy := 0.0, 0.0
		for b := 0; b < forceBlocks; b++ {
			fx += k.pointFX[b][i]
			fy += k.pointFY[b][i]
		}
		ax, ay := 0.0, 0.0
		for v := k.t.pointLeaf[i]; v != invalidNode; v = k.t.node(v).parent {
			for b := 0; b < forceBlocks; b++ {
				ax += k.nodeFX[b][v]
				ay += k.nodeFY[b][v]
			}
		}
		fx += ax * ps.size[i]
		fy += ay * ps.size[i]

		d := math.Hypot(fx, fy)
		if d == 0 {
			continue
		}
		step := math.Min(d, k.temperature)
		ps.x[i] += fx / d * step
		ps.y[i] += fy / d * step
		sumD += step
		if step > maxD {
			maxD = step
		}
	}
	k.localSum[id] = sumD
	k.localMax[id] = maxD
}

// reduceStats folds the per-worker displacement figures into the global
// convergence decision input.
func (k *forceKernel) reduceStats() {
	sum, max := 0.0, 0.0
	for i := range k.localSum {
		sum += k.localSum[i]
		if k.localMax[i] > max {
			max = k.localMax[i]
		}
	}
	avg := 0.0
	if n := k.ps.len(); n > 0 {
		avg = sum / float64(n)
	}
	k.stats = IterationStats{
		MaxDisplacement:    max,
		AvgDisplacement:    avg,
		WellSeparatedPairs: len(k.t.wsPairs),
		DirectPairs:        len(k.t.directPairs),
		DirectNodes:        len(k.t.directNodes),
		TreeNodes:          int(k.t.numLeaves + k.t.numInner),
	}
}
