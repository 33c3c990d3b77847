package layout

// pairDecomposer walks the spatial index top-down and classifies node pairs
// into well-separated pairs, which the force phase approximates with one
// aggregate interaction, and direct pairs, which it expands to pointwise
// evaluation. The classification covers every unordered point pair exactly
// once: pairs inside a single leaf become direct-node entries, and every pair
// spanning two leaves is classified at the children of its lowest common
// ancestor.
type pairDecomposer struct {
	t          *spatialIndex
	separation float64
	// pairs whose pointwise expansion is at most this large are cheaper
	// to evaluate directly than to keep refining
	directThreshold int32
}

func newPairDecomposer(t *spatialIndex, separation float64, directThreshold int32) *pairDecomposer {
	return &pairDecomposer{t: t, separation: separation, directThreshold: directThreshold}
}

// decompose classifies the whole tree. The index must be fully built; the
// output lands in the index pair lists.
func (d *pairDecomposer) decompose() {
	if d.t.root == invalidNode || d.t.node(d.t.root).pointCount < 2 {
		return
	}
	d.splitNode(d.t.root)
}

// splitNode emits the intra-node work of v: cross pairs between each pair of
// children, recursion into each child, and a direct-node entry for any leaf
// holding more than one point.
func (d *pairDecomposer) splitNode(v int32) {
	nd := d.t.node(v)
	if nd.isLeaf() {
		if nd.pointCount > 1 {
			d.t.addDirectNode(v)
		}
		return
	}
	for i := int32(0); i < nd.childCount; i++ {
		for j := i + 1; j < nd.childCount; j++ {
			d.findPairs(nd.child[i], nd.child[j])
		}
	}
	for i := int32(0); i < nd.childCount; i++ {
		d.splitNode(nd.child[i])
	}
}

// findPairs classifies the pair (a, b). A well-separated pair terminates the
// recursion; otherwise the node with the larger cell is refined into its
// children. A pair of leaves, or a pair whose expansion is small enough, goes
// to the direct list.
func (d *pairDecomposer) findPairs(a, b int32) {
	if d.wellSeparated(a, b) {
		d.t.addWSP(a, b)
		return
	}
	na, nb := d.t.node(a), d.t.node(b)
	if (na.isLeaf() && nb.isLeaf()) || na.pointCount*nb.pointCount <= d.directThreshold {
		d.t.addDirectPair(a, b)
		return
	}
	// Refine the larger cell; a leaf is never refined. Smaller level means
	// a shallower, larger cell.
	if na.isLeaf() || (!nb.isLeaf() && nb.level < na.level) {
		a, b = b, a
		na = d.t.node(a)
	}
	for i := int32(0); i < na.childCount; i++ {
		d.findPairs(na.child[i], b)
	}
}

// wellSeparated is the symmetric separation test on the minimum enclosing
// cells: distance(A, B) >= s * max(diam(A), diam(B)).
func (d *pairDecomposer) wellSeparated(a, b int32) bool {
	da := d.t.diameter(a)
	db := d.t.diameter(b)
	if db > da {
		da = db
	}
	return d.t.boxDistance(a, b) >= d.separation*da
}
