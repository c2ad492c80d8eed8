package iforest

// Tree is a node of an isolation tree. Each node owns its children.
type Tree struct {
	height int
	size   int // number of values that reached this node

	// Split parameters (internal nodes only)
	splitValue float64
	hasSplit   bool

	left  *Tree
	right *Tree
}

// Height returns the depth of the node, 0 at the root.
func (t *Tree) Height() int { return t.height }

// Size returns how many values reached the node while the tree was grown.
func (t *Tree) Size() int { return t.size }

// SplitValue returns the split threshold and whether the node has one.
func (t *Tree) SplitValue() (float64, bool) { return t.splitValue, t.hasSplit }

// Left returns the subtree holding values below the split.
func (t *Tree) Left() *Tree { return t.left }

// Right returns the subtree holding values at or above the split.
func (t *Tree) Right() *Tree { return t.right }

// IsLeaf reports whether the node has no children.
func (t *Tree) IsLeaf() bool { return t.left == nil && t.right == nil }

// Walk calls fn for every node in pre-order.
func (t *Tree) Walk(fn func(*Tree)) {
	if t == nil {
		return
	}
	fn(t)
	t.left.Walk(fn)
	t.right.Walk(fn)
}

// BuildTree grows an isolation tree from subset, starting at height.
//
// A node becomes a leaf once height reaches maxHeight or it holds at most one value.
// Otherwise the split is drawn uniformly from [min, max] of subset; values below it go left
// and the rest go right. A constant subset sends everything right. subset is not modified.
func BuildTree(subset []float64, height, maxHeight int, r Rand) *Tree {
	t := &Tree{height: height, size: len(subset)}

	// Terminal conditions
	if height >= maxHeight || len(subset) <= 1 {
		return t
	}

	minVal, maxVal := subset[0], subset[0]
	for _, v := range subset[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	// Float64 never returns 1, but a split at maxVal would send the same values right as one just below it.
	t.splitValue = minVal + r.Float64()*(maxVal-minVal)
	t.hasSplit = true

	var leftData, rightData []float64
	for _, v := range subset {
		if v < t.splitValue {
			leftData = append(leftData, v)
		} else {
			rightData = append(rightData, v)
		}
	}

	t.left = BuildTree(leftData, height+1, maxHeight, r)
	t.right = BuildTree(rightData, height+1, maxHeight, r)
	return t
}

// PathLength returns the number of edges value crosses from the root of t to a leaf,
// plus c(size) at the leaf for the values it never separated.
func PathLength(value float64, t *Tree) float64 {
	return pathLength(value, t, 0)
}

func pathLength(value float64, t *Tree, depth float64) float64 {
	if t.IsLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return depth + AveragePathLength(t.size)
	}
	if !t.hasSplit {
		return depth
	}

	next := t.right
	if value < t.splitValue {
		next = t.left
	}
	if next == nil {
		return depth + AveragePathLength(t.size)
	}
	return pathLength(value, next, depth+1)
}
