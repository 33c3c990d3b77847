package layout

// indexBuilder constructs the spatial index from a Morton-sorted point array.
// Construction is a single linear pass: one leaf per maximal run of identical
// finest-grid codes, attached to the growing tree through the common-ancestor
// level of adjacent runs. Because the array is sorted, no coordinate-based
// recursion is ever needed and the pass is O(n).
type indexBuilder struct {
	t *spatialIndex

	// reusable scratch for the attachment stack and the post-order walk
	stack  []chainEntry
	frames []walkFrame
}

type chainEntry struct {
	id    int32
	level int32
}

type walkFrame struct {
	id   int32
	next int32 // next child index to descend into
}

func newIndexBuilder(t *spatialIndex) *indexBuilder {
	return &indexBuilder{
		t:      t,
		stack:  make([]chainEntry, 0, maxLevel+2),
		frames: make([]walkFrame, 0, maxLevel+2),
	}
}

// build creates the tree for the sorted point array. The index must have been
// initialized with the current bounding box so that ps.code is consistent
// with the grid mapping.
func (b *indexBuilder) build(ps *pointStore) {
	t := b.t
	n := ps.len()
	if n == 0 {
		t.root = t.newNode(0, 0, 0, 0)
		b.restoreChain(ps)
		return
	}

	codes := ps.code
	stack := b.stack[:0]
	prevCode := uint64(0)

	for r0 := 0; r0 < n; {
		r1 := r0 + 1
		for r1 < n && codes[r1] == codes[r0] {
			r1++
		}
		leaf := t.newNode(maxLevel, codes[r0], int32(r0), int32(r1-r0))

		if len(stack) == 0 {
			stack = append(stack, chainEntry{leaf, maxLevel})
			prevCode = codes[r0]
			r0 = r1
			continue
		}

		// Level of the lowest common ancestor with the previous leaf.
		lca := commonAncestorLevel(prevCode, codes[r0]) - 1

		var last chainEntry
		for len(stack) > 0 && stack[len(stack)-1].level > lca {
			last = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}

		if len(stack) > 0 && stack[len(stack)-1].level == lca {
			// The ancestor already exists; the new leaf becomes its
			// next quadrant child.
			t.attachChild(stack[len(stack)-1].id, leaf)
		} else {
			// Close the right spine under a fresh ancestor holding
			// the previous subtree and the new leaf.
			p := t.newNode(lca, codes[r0], 0, 0)
			if len(stack) > 0 {
				top := t.node(stack[len(stack)-1].id)
				top.child[top.childCount-1] = p
				t.node(p).parent = stack[len(stack)-1].id
			}
			t.attachChild(p, last.id)
			t.attachChild(p, leaf)
			stack = append(stack, chainEntry{p, lca})
		}
		stack = append(stack, chainEntry{leaf, maxLevel})

		prevCode = codes[r0]
		r0 = r1
	}

	t.root = stack[0].id
	b.stack = stack[:0]

	b.collapseSingleChains()
	b.restoreChain(ps)
}

// mergeWithNext splices node v out of the tree, replacing it with its only
// child, and returns the child id. Calling it on a node with more than one
// child is a bug in the caller.
func (b *indexBuilder) mergeWithNext(v int32) int32 {
	t := b.t
	nd := t.node(v)
	c := nd.child[0]
	t.node(c).parent = nd.parent
	if nd.parent == invalidNode {
		t.root = c
	} else {
		p := t.node(nd.parent)
		for i := int32(0); i < p.childCount; i++ {
			if p.child[i] == v {
				p.child[i] = c
				break
			}
		}
	}
	// The slot stays in the arena but is no longer referenced.
	nd.childCount = 0
	nd.pointCount = 0
	nd.child[0] = invalidNode
	return c
}

// collapseSingleChains removes every node left with exactly one child. The
// linear attachment only creates ancestors with two children, so this pass is
// normally empty, but the invariant must hold for any tree the later phases
// see.
func (b *indexBuilder) collapseSingleChains() {
	for v := int32(0); v < int32(len(b.t.nodes)); v++ {
		if b.t.node(v).childCount == 1 {
			b.mergeWithNext(v)
		}
	}
}

// restoreChain runs a post-order walk that fixes up firstPoint, pointCount
// and the centroid aggregates of inner nodes bottom-up, records the owning
// leaf of every point, and threads the flat next chains used to iterate all
// leaves or all inner nodes without touching child arrays.
func (b *indexBuilder) restoreChain(ps *pointStore) {
	t := b.t
	t.firstLeaf = invalidNode
	t.firstInner = invalidNode
	t.numLeaves = 0
	t.numInner = 0
	if t.root == invalidNode {
		return
	}

	lastLeaf := invalidNode
	lastInner := invalidNode

	frames := b.frames[:0]
	frames = append(frames, walkFrame{t.root, 0})
	for len(frames) > 0 {
		f := &frames[len(frames)-1]
		nd := t.node(f.id)
		if f.next < nd.childCount {
			c := nd.child[f.next]
			f.next++
			frames = append(frames, walkFrame{c, 0})
			continue
		}

		if nd.isLeaf() {
			nd.sumX, nd.sumY, nd.sumSize = 0, 0, 0
			for i := nd.firstPoint; i < nd.firstPoint+nd.pointCount; i++ {
				nd.sumX += ps.x[i]
				nd.sumY += ps.y[i]
				nd.sumSize += ps.size[i]
				t.pointLeaf[i] = f.id
			}
			if lastLeaf == invalidNode {
				t.firstLeaf = f.id
			} else {
				t.node(lastLeaf).next = f.id
			}
			nd.next = invalidNode
			lastLeaf = f.id
			t.numLeaves++
		} else {
			first := t.node(nd.child[0])
			nd.firstPoint = first.firstPoint
			nd.pointCount = 0
			nd.sumX, nd.sumY, nd.sumSize = 0, 0, 0
			for i := int32(0); i < nd.childCount; i++ {
				c := t.node(nd.child[i])
				nd.pointCount += c.pointCount
				nd.sumX += c.sumX
				nd.sumY += c.sumY
				nd.sumSize += c.sumSize
			}
			if lastInner == invalidNode {
				t.firstInner = f.id
			} else {
				t.node(lastInner).next = f.id
			}
			nd.next = invalidNode
			lastInner = f.id
			t.numInner++
		}
		frames = frames[:len(frames)-1]
	}
	b.frames = frames[:0]
}
