package dht

// bucket is either a leaf holding up to k nodes, or an inner bucket with
// exactly two children selected by the identifier bit at its depth.
type bucket struct {
	nodes      []*Node
	left       *bucket
	right      *bucket
	splittable bool
}

func newBucket(splittable bool) *bucket {
	return &bucket{splittable: splittable}
}

func (b *bucket) isLeaf() bool {
	return b.left == nil
}

// child returns the child bucket id falls into at the given depth
func (b *bucket) child(id ID, depth int) *bucket {
	if id.Bit(depth) {
		return b.right
	}
	return b.left
}

// Find returns node
func (b *bucket) find(id ID) *Node {
	for _, n := range b.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// bad returns the first node that failed its liveness check
func (b *bucket) bad() *Node {
	for _, n := range b.nodes {
		if !n.good {
			return n
		}
	}
	return nil
}

// split turns a leaf into an inner bucket. Only the child on owner's path
// may split again.
func (b *bucket) split(owner ID, depth int) {
	b.left, b.right = newBucket(false), newBucket(false)
	b.child(owner, depth).splittable = true
	for _, n := range b.nodes {
		c := b.child(n.id, depth)
		c.nodes = append(c.nodes, n)
	}
	b.nodes = nil
}

// walk visits leaves in pre-order, left before right
func (b *bucket) walk(f func(leaf *bucket)) {
	if b.isLeaf() {
		f(b)
		return
	}
	b.left.walk(f)
	b.right.walk(f)
}
