package layout

import "math"

const invalidNode = int32(-1)

// directPairFactor bounds the direct-pair list relative to the node count.
// Empirically the decomposition recursion in two dimensions emits at most
// about 27 direct pairs per node.
const directPairFactor = 27

// nodePair references two index nodes by arena id.
type nodePair struct {
	a, b int32
}

// indexNode is one arena slot of the spatial index. Children, parent and the
// next-in-chain link are arena indices, never pointers. A leaf holds the
// contiguous slot range [firstPoint, firstPoint+pointCount) of the
// Morton-sorted point array; an inner node holds up to four child ids and the
// same range aggregated over its subtree.
type indexNode struct {
	level      int32
	cellX      uint32 // down-left corner of the cell, grid units
	cellY      uint32
	firstPoint int32
	pointCount int32
	child      [4]int32
	childCount int32
	parent     int32
	next       int32
	sumX, sumY float64 // position sums for the subtree centroid
	sumSize    float64 // size sum, the aggregate "mass" of the subtree
}

func (nd *indexNode) isLeaf() bool { return nd.childCount == 0 }

// spatialIndex is the array-backed quadtree over the point set plus the pair
// lists produced by the decomposition. Backing storage is allocated once and
// reused across iterations; init and clear only reset counters.
type spatialIndex struct {
	// grid mapping derived from the bounding box of all points
	originX, originY float64
	scale            float64 // gridResolution / max(box width, box height)

	nodes      []indexNode
	root       int32
	firstLeaf  int32
	firstInner int32
	numLeaves  int32
	numInner   int32

	wsPairs     []nodePair
	directPairs []nodePair
	directNodes []int32

	// per-point leaf id, aligned with the sorted point array
	pointLeaf []int32
}

// newSpatialIndex sizes the arena for a worst case of n points: at most 2n
// nodes, with pair lists sized conservatively from the node bound.
func newSpatialIndex(n int) *spatialIndex {
	nodeCap := 2 * n
	if nodeCap < 4 {
		nodeCap = 4
	}
	return &spatialIndex{
		nodes:       make([]indexNode, 0, nodeCap),
		root:        invalidNode,
		firstLeaf:   invalidNode,
		firstInner:  invalidNode,
		wsPairs:     make([]nodePair, 0, 8*nodeCap),
		directPairs: make([]nodePair, 0, directPairFactor*nodeCap),
		directNodes: make([]int32, 0, nodeCap),
		pointLeaf:   make([]int32, n),
	}
}

// init derives the grid mapping from the bounding box of all points and
// resets the node arena and pair counters for a fresh build.
func (t *spatialIndex) init(b bounds) {
	w := b.maxX - b.minX
	h := b.maxY - b.minY
	side := math.Max(w, h)
	if side <= 0 {
		side = 1
	}
	t.originX = b.minX
	t.originY = b.minY
	// Keep the furthest point strictly inside the grid so its cell
	// coordinate stays below gridResolution.
	t.scale = float64(gridResolution-1) / side
	t.nodes = t.nodes[:0]
	t.root = invalidNode
	t.firstLeaf = invalidNode
	t.firstInner = invalidNode
	t.numLeaves = 0
	t.numInner = 0
	t.clear()
}

// clear resets the pair counters without touching backing storage, so the
// decomposition can rebuild its output every iteration without allocating.
func (t *spatialIndex) clear() {
	t.wsPairs = t.wsPairs[:0]
	t.directPairs = t.directPairs[:0]
	t.directNodes = t.directNodes[:0]
}

func (t *spatialIndex) numNodes() int { return len(t.nodes) }

func (t *spatialIndex) node(v int32) *indexNode { return &t.nodes[v] }

// codeOf maps a layout-space position to its finest-grid Morton code.
func (t *spatialIndex) codeOf(x, y float64) uint64 {
	gx := uint32((x - t.originX) * t.scale)
	gy := uint32((y - t.originY) * t.scale)
	return mortonEncode(gx, gy)
}

// newNode appends a node to the arena and returns its id.
func (t *spatialIndex) newNode(level int32, code uint64, firstPoint, pointCount int32) int32 {
	id := int32(len(t.nodes))
	prefix := cellPrefix(code, level)
	t.nodes = append(t.nodes, indexNode{
		level:      level,
		cellX:      mortonX(prefix),
		cellY:      mortonY(prefix),
		firstPoint: firstPoint,
		pointCount: pointCount,
		child:      [4]int32{invalidNode, invalidNode, invalidNode, invalidNode},
		parent:     invalidNode,
		next:       invalidNode,
	})
	return id
}

// attachChild appends c to v's child array in left-to-right order.
func (t *spatialIndex) attachChild(v, c int32) {
	nd := t.node(v)
	nd.child[nd.childCount] = c
	nd.childCount++
	t.node(c).parent = v
}

// addWSP records a well-separated pair.
func (t *spatialIndex) addWSP(a, b int32) {
	t.wsPairs = append(t.wsPairs, nodePair{a, b})
}

// addDirectPair records a pair that must be expanded to pointwise evaluation.
func (t *spatialIndex) addDirectPair(a, b int32) {
	t.directPairs = append(t.directPairs, nodePair{a, b})
}

// addDirectNode records a node whose internal pairs must all be evaluated
// directly.
func (t *spatialIndex) addDirectNode(v int32) {
	t.directNodes = append(t.directNodes, v)
}

// sideLength returns the cell side of a node in layout coordinates.
func (t *spatialIndex) sideLength(v int32) float64 {
	return float64(uint64(1)<<(maxLevel-uint(t.node(v).level))) / t.scale
}

// diameter returns the diagonal of the node's cell, the diameter used by the
// separation test.
func (t *spatialIndex) diameter(v int32) float64 {
	return t.sideLength(v) * math.Sqrt2
}

// boxDistance returns the Euclidean distance between the cells of two nodes,
// zero if they touch or overlap.
func (t *spatialIndex) boxDistance(a, b int32) float64 {
	na, nb := t.node(a), t.node(b)
	ax0 := t.originX + float64(na.cellX)/t.scale
	ay0 := t.originY + float64(na.cellY)/t.scale
	ax1 := ax0 + t.sideLength(a)
	ay1 := ay0 + t.sideLength(a)
	bx0 := t.originX + float64(nb.cellX)/t.scale
	by0 := t.originY + float64(nb.cellY)/t.scale
	bx1 := bx0 + t.sideLength(b)
	by1 := by0 + t.sideLength(b)

	dx := math.Max(0, math.Max(bx0-ax1, ax0-bx1))
	dy := math.Max(0, math.Max(by0-ay1, ay0-by1))
	return math.Hypot(dx, dy)
}

// findFirstPointInCell scans backward from slot i for the first point sharing
// its finest-grid cell. Cost is the run length; it exists for boundary
// fix-ups and must stay out of hot paths.
func (t *spatialIndex) findFirstPointInCell(codes []uint64, i int) int {
	c := codes[i]
	for i > 0 && codes[i-1] == c {
		i--
	}
	return i
}
