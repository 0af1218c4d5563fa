package match

import (
	"mediadupfinder/internal/hash"
	"mediadupfinder/internal/models"
)

// PerceptualMatcher clusters still images whose average hashes are within
// a Hamming distance threshold
type PerceptualMatcher struct {
	threshold int
}

// NewPerceptualMatcher creates a new PerceptualMatcher
func NewPerceptualMatcher(threshold int) *PerceptualMatcher {
	if threshold < 0 {
		threshold = 5 // Default threshold
	}
	return &PerceptualMatcher{threshold: threshold}
}

// FindClusters groups images by transitive closure of the match relation.
// Uses BK-Tree for O(n log n) average-case performance instead of O(n²).
func (m *PerceptualMatcher) FindClusters(fps []*models.Fingerprint) [][]*models.Fingerprint {
	n := len(fps)
	if n < 2 {
		return nil
	}

	uf := newUnionFind(n)
	tree := newBKTree(hash.HammingDistance)

	for i, fp := range fps {
		h := imageHash(fp)
		// Find all earlier images within threshold distance
		for _, j := range tree.findWithinDistance(h, m.threshold) {
			uf.union(i, j)
		}
		tree.insert(h, i)
	}

	return collect(fps, uf)
}

func imageHash(fp *models.Fingerprint) models.Hash {
	if fp.Image == nil {
		return nil
	}
	return fp.Image.Hash
}

// Union-Find data structure for efficient grouping
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	rank := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: rank}
}

func (uf *unionFind) find(x int) int {
	if uf.parent[x] != x {
		uf.parent[x] = uf.find(uf.parent[x]) // Path compression
	}
	return uf.parent[x]
}

func (uf *unionFind) union(x, y int) {
	px, py := uf.find(x), uf.find(y)
	if px == py {
		return
	}
	// Union by rank
	if uf.rank[px] < uf.rank[py] {
		px, py = py, px
	}
	uf.parent[py] = px
	if uf.rank[px] == uf.rank[py] {
		uf.rank[px]++
	}
}

// transitiveClosure unions every pair for which match holds
func transitiveClosure(n int, match func(i, j int) bool) *unionFind {
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if match(i, j) {
				uf.union(i, j)
			}
		}
	}
	return uf
}

// bkTree is a BK-tree over hashes under an integer metric. Lookups return
// every element within a threshold in O(log n) average time.
type bkTree struct {
	root     *bkNode
	distance func(a, b models.Hash) int
}

type bkNode struct {
	hash     models.Hash
	index    int
	children map[int]*bkNode // distance -> child node
}

func newBKTree(distanceFn func(a, b models.Hash) int) *bkTree {
	return &bkTree{
		distance: distanceFn,
	}
}

// insert adds a hash with its associated index to the tree.
func (t *bkTree) insert(h models.Hash, index int) {
	node := &bkNode{
		hash:     h,
		index:    index,
		children: make(map[int]*bkNode),
	}

	if t.root == nil {
		t.root = node
		return
	}

	current := t.root
	for {
		dist := t.distance(h, current.hash)
		child, exists := current.children[dist]
		if !exists {
			current.children[dist] = node
			return
		}
		current = child
	}
}

// findWithinDistance returns the indices of all elements within threshold
// of h.
func (t *bkTree) findWithinDistance(h models.Hash, threshold int) []int {
	if t.root == nil {
		return nil
	}

	var results []int
	t.searchNode(t.root, h, threshold, &results)
	return results
}

func (t *bkTree) searchNode(node *bkNode, h models.Hash, threshold int, results *[]int) {
	dist := t.distance(h, node.hash)

	if dist <= threshold {
		*results = append(*results, node.index)
	}

	// Triangle inequality: only children in [dist - threshold, dist + threshold]
	// can hold matches
	minDist := max(dist-threshold, 0)
	maxDist := dist + threshold

	for childDist, child := range node.children {
		if childDist >= minDist && childDist <= maxDist {
			t.searchNode(child, h, threshold, results)
		}
	}
}

func (t *bkTree) size() int {
	if t.root == nil {
		return 0
	}
	return t.countNodes(t.root)
}

func (t *bkTree) countNodes(node *bkNode) int {
	count := 1
	for _, child := range node.children {
		count += t.countNodes(child)
	}
	return count
}
