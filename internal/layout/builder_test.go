package layout

import (
	"fmt"
	"sort"
	"testing"
)

func TestBuildSinglePoint(t *testing.T) {
	set := &PointSet{X: []float64{5}, Y: []float64{5}}
	_, idx := buildTestIndex(set)

	if idx.root == invalidNode {
		t.Fatal("expected a root")
	}
	root := idx.node(idx.root)
	if !root.isLeaf() {
		t.Error("single point should produce a leaf root")
	}
	if root.pointCount != 1 {
		t.Errorf("root pointCount = %d, want 1", root.pointCount)
	}
	if idx.numLeaves != 1 || idx.numInner != 0 {
		t.Errorf("counts = %d leaves, %d inner, want 1, 0", idx.numLeaves, idx.numInner)
	}
}

func TestBuildCoincidentPoints(t *testing.T) {
	// Identical positions share a finest-grid cell and collapse into one
	// multi-point leaf.
	set := &PointSet{
		X: []float64{1, 1, 1, 5},
		Y: []float64{2, 2, 2, 7},
	}
	_, idx := buildTestIndex(set)

	if idx.numLeaves != 2 {
		t.Fatalf("numLeaves = %d, want 2", idx.numLeaves)
	}
	found := false
	for v := idx.firstLeaf; v != invalidNode; v = idx.node(v).next {
		if idx.node(v).pointCount == 3 {
			found = true
		}
	}
	if !found {
		t.Error("expected a leaf holding the three coincident points")
	}
}

func checkTreeInvariants(t *testing.T, ps *pointStore, idx *spatialIndex) {
	t.Helper()
	n := ps.len()

	if len(idx.nodes) > 2*n {
		t.Errorf("arena holds %d nodes for %d points, exceeds 2n", len(idx.nodes), n)
	}

	// Leaf chain partitions [0, n) in order, without gaps or overlaps.
	next := int32(0)
	leaves := 0
	for v := idx.firstLeaf; v != invalidNode; v = idx.node(v).next {
		nd := idx.node(v)
		if !nd.isLeaf() {
			t.Fatalf("node %d on the leaf chain has %d children", v, nd.childCount)
		}
		if nd.firstPoint != next {
			t.Fatalf("leaf %d starts at %d, want %d", v, nd.firstPoint, next)
		}
		if nd.pointCount < 1 {
			t.Fatalf("leaf %d holds %d points", v, nd.pointCount)
		}
		next += nd.pointCount
		leaves++
	}
	if next != int32(n) {
		t.Errorf("leaf chain covers %d of %d points", next, n)
	}
	if int32(leaves) != idx.numLeaves {
		t.Errorf("leaf chain length %d != numLeaves %d", leaves, idx.numLeaves)
	}

	// Inner nodes: 2..4 children, aggregates equal the child sums, parent
	// links point back.
	inner := 0
	for v := idx.firstInner; v != invalidNode; v = idx.node(v).next {
		nd := idx.node(v)
		if nd.childCount < 2 || nd.childCount > 4 {
			t.Fatalf("inner node %d has %d children", v, nd.childCount)
		}
		var cnt int32
		var sx, sy, ss float64
		for i := int32(0); i < nd.childCount; i++ {
			c := idx.node(nd.child[i])
			if c.parent != v {
				t.Fatalf("child %d of node %d has parent %d", nd.child[i], v, c.parent)
			}
			if c.level <= nd.level {
				t.Fatalf("child %d at level %d under node %d at level %d", nd.child[i], c.level, v, nd.level)
			}
			cnt += c.pointCount
			sx += c.sumX
			sy += c.sumY
			ss += c.sumSize
		}
		if cnt != nd.pointCount {
			t.Fatalf("node %d pointCount %d != child sum %d", v, nd.pointCount, cnt)
		}
		if !closeTo(sx, nd.sumX) || !closeTo(sy, nd.sumY) || !closeTo(ss, nd.sumSize) {
			t.Fatalf("node %d aggregates diverge from child sums", v)
		}
		inner++
	}
	if int32(inner) != idx.numInner {
		t.Errorf("inner chain length %d != numInner %d", inner, idx.numInner)
	}

	// Every point knows its owning leaf.
	for i := 0; i < n; i++ {
		v := idx.pointLeaf[i]
		nd := idx.node(v)
		if !nd.isLeaf() {
			t.Fatalf("pointLeaf[%d] = %d is not a leaf", i, v)
		}
		if int32(i) < nd.firstPoint || int32(i) >= nd.firstPoint+nd.pointCount {
			t.Fatalf("point %d outside its leaf range [%d, %d)", i, nd.firstPoint, nd.firstPoint+nd.pointCount)
		}
	}

	// Root covers everything and has no parent.
	root := idx.node(idx.root)
	if root.pointCount != int32(n) {
		t.Errorf("root covers %d of %d points", root.pointCount, n)
	}
	if root.parent != invalidNode {
		t.Errorf("root has parent %d", root.parent)
	}
}

func closeTo(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := 1.0
	if b > scale || -b > scale {
		scale = b
		if scale < 0 {
			scale = -scale
		}
	}
	return diff <= 1e-9*scale
}

func TestBuildInvariantsRandom(t *testing.T) {
	for _, n := range []int{2, 10, 100, 1000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			set := randomPointSet(n, 1000, int64(n))
			ps, idx := buildTestIndex(set)
			checkTreeInvariants(t, ps, idx)
		})
	}
}

func TestBuildInvariantsClustered(t *testing.T) {
	// Two tight clusters far apart exercise deep common-ancestor levels.
	set := &PointSet{}
	for i := 0; i < 50; i++ {
		set.X = append(set.X, float64(i)*0.001)
		set.Y = append(set.Y, float64(i)*0.001)
	}
	for i := 0; i < 50; i++ {
		set.X = append(set.X, 10000+float64(i)*0.001)
		set.Y = append(set.Y, 10000+float64(i)*0.001)
	}
	ps, idx := buildTestIndex(set)
	checkTreeInvariants(t, ps, idx)
}

func TestBuildRebuildReusesArena(t *testing.T) {
	set := randomPointSet(500, 100, 3)
	ps := newPointStore(set)
	n := ps.len()
	idx := newSpatialIndex(n)
	b := newIndexBuilder(idx)

	var firstNodes []indexNode
	var firstRoot, firstLeaf, firstInner int32
	var firstPointLeaf []int32
	for pass := 0; pass < 3; pass++ {
		idx.init(ps.boundsOf(0, n))
		for i := 0; i < n; i++ {
			ps.code[i] = idx.codeOf(ps.x[i], ps.y[i])
		}
		sort.Sort(&pointSorter{ps: ps, lo: 0, hi: n})
		b.build(ps)

		if pass == 0 {
			firstNodes = append([]indexNode(nil), idx.nodes...)
			firstRoot = idx.root
			firstLeaf = idx.firstLeaf
			firstInner = idx.firstInner
			firstPointLeaf = append([]int32(nil), idx.pointLeaf...)
			continue
		}
		// Identical input must rebuild the structurally identical tree:
		// same arena slot per node, same level, range, children, links.
		if len(idx.nodes) != len(firstNodes) {
			t.Fatalf("pass %d rebuilt %d nodes, first pass had %d", pass, len(idx.nodes), len(firstNodes))
		}
		if idx.root != firstRoot || idx.firstLeaf != firstLeaf || idx.firstInner != firstInner {
			t.Fatalf("pass %d chain heads (%d, %d, %d) differ from (%d, %d, %d)",
				pass, idx.root, idx.firstLeaf, idx.firstInner, firstRoot, firstLeaf, firstInner)
		}
		for v := range idx.nodes {
			got, want := &idx.nodes[v], &firstNodes[v]
			if got.level != want.level || got.cellX != want.cellX || got.cellY != want.cellY {
				t.Fatalf("pass %d node %d cell (%d, %d, %d) != (%d, %d, %d)",
					pass, v, got.level, got.cellX, got.cellY, want.level, want.cellX, want.cellY)
			}
			if got.firstPoint != want.firstPoint || got.pointCount != want.pointCount {
				t.Fatalf("pass %d node %d range [%d, +%d) != [%d, +%d)",
					pass, v, got.firstPoint, got.pointCount, want.firstPoint, want.pointCount)
			}
			if got.child != want.child || got.childCount != want.childCount {
				t.Fatalf("pass %d node %d children %v != %v", pass, v, got.child, want.child)
			}
			if got.parent != want.parent || got.next != want.next {
				t.Fatalf("pass %d node %d links (%d, %d) != (%d, %d)",
					pass, v, got.parent, got.next, want.parent, want.next)
			}
		}
		for i := range idx.pointLeaf {
			if idx.pointLeaf[i] != firstPointLeaf[i] {
				t.Fatalf("pass %d pointLeaf[%d] = %d, first pass had %d",
					pass, i, idx.pointLeaf[i], firstPointLeaf[i])
			}
		}
	}
}

func TestMergeWithNext(t *testing.T) {
	set := randomPointSet(64, 100, 11)
	_, idx := buildTestIndex(set)

	// After collapse no reachable node may have exactly one child.
	seen := map[int32]bool{}
	var walk func(v int32)
	var bad int32 = invalidNode
	walk = func(v int32) {
		seen[v] = true
		nd := idx.node(v)
		if nd.childCount == 1 {
			bad = v
		}
		for i := int32(0); i < nd.childCount; i++ {
			walk(nd.child[i])
		}
	}
	walk(idx.root)
	if bad != invalidNode {
		t.Errorf("node %d kept a single child after collapse", bad)
	}
}

func TestBuildEmpty(t *testing.T) {
	ps := newPointStore(&PointSet{})
	idx := newSpatialIndex(0)
	idx.init(ps.boundsOf(0, 0))
	newIndexBuilder(idx).build(ps)
	if idx.root == invalidNode {
		t.Fatal("empty build should still produce a root")
	}
	if idx.node(idx.root).pointCount != 0 {
		t.Error("empty root should cover zero points")
	}
}
