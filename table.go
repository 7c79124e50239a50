package dht

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const checkConcurrency = 64

// Pinger checks whether a contact is still alive
type Pinger interface {
	Ping(ctx context.Context, address string, port int) (ID, error)
}

// Table store all nodes
type Table struct {
	mu     sync.RWMutex
	id     ID
	ksize  int
	root   *bucket
	pinger Pinger
}

// NewTable returns a table owned by id. A nil pinger disables liveness checks.
func NewTable(id ID, ksize int, pinger Pinger) *Table {
	return &Table{
		id:     id,
		ksize:  ksize,
		root:   newBucket(true),
		pinger: pinger,
	}
}

// ID returns the owner id
func (t *Table) ID() ID {
	return t.id
}

// KSize returns bucket capacity
func (t *Table) KSize() int {
	return t.ksize
}

// Add inserts or refreshes a node. A full bucket replaces its first bad
// node, splits when it lies on the owner's path, or drops the node.
func (t *Table) Add(id []byte, address string, port int, token string) error {
	nid, err := NewID(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(nid, address, port, token)
	return nil
}

func (t *Table) insert(id ID, address string, port int, token string) {
	b, depth := t.root, 0
	for {
		for !b.isLeaf() {
			b = b.child(id, depth)
			depth++
		}
		if n := b.find(id); n != nil {
			n.replace(id, address, port, token)
			return
		}
		if len(b.nodes) < t.ksize {
			b.nodes = append(b.nodes, NewNode(id, address, port, token))
			return
		}
		if n := b.bad(); n != nil {
			n.replace(id, address, port, token)
			return
		}
		if !b.splittable || depth >= idLen*8 {
			logrus.WithFields(logrus.Fields{
				"function": "Add",
				"id":       id,
				"depth":    depth,
			}).Debug("Bucket full, dropping node")
			return
		}
		b.split(t.id, depth)
	}
}

// Closest returns up to k nodes ordered by distance to target
func (t *Table) Closest(target ID, k int) []*Node {
	if k <= 0 {
		return []*Node{}
	}
	ln := &lookupNodes{id: target, nodes: t.Nodes()}
	sort.Stable(ln)
	if ln.Len() > k {
		return ln.nodes[:k]
	}
	return ln.nodes
}

// Nodes returns a snapshot of every node, leaves in pre-order
func (t *Table) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes := make([]*Node, 0, t.ksize)
	t.root.walk(func(b *bucket) {
		for _, n := range b.nodes {
			nodes = append(nodes, n.clone())
		}
	})
	return nodes
}

// Len returns count of all nodes
func (t *Table) Len() (n int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.root.walk(func(b *bucket) {
		n += len(b.nodes)
	})
	return
}

// Check pings every good node except the owner and marks the ones that do
// not answer as bad. Bad nodes stay visible until Add overwrites them.
func (t *Table) Check(ctx context.Context) {
	if t.pinger == nil {
		return
	}
	var nodes []*Node
	for _, n := range t.Nodes() {
		if n.good && n.id != t.id {
			nodes = append(nodes, n)
		}
	}

	var g errgroup.Group
	g.SetLimit(checkConcurrency)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			_, err := t.pinger.Ping(ctx, n.address, n.port)
			if errors.Is(err, ErrNoResponse) {
				t.markBad(n)
			}
			return nil
		})
	}
	g.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Check",
		"owner":    t.id,
		"checked":  len(nodes),
	}).Debug("Liveness check finished")
}

// markBad flags the contact unless its slot was reused in the meantime.
func (t *Table) markBad(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, depth := t.root, 0
	for !b.isLeaf() {
		b = b.child(n.id, depth)
		depth++
	}
	if cur := b.find(n.id); cur != nil && cur.address == n.address && cur.port == n.port {
		cur.good = false
	}
}

type lookupNodes struct {
	id    ID
	nodes []*Node
}

func (ln *lookupNodes) Len() int {
	return len(ln.nodes)
}

func (ln *lookupNodes) Less(i, j int) bool {
	return ln.id.Closer(ln.nodes[i].id, ln.nodes[j].id)
}

func (ln *lookupNodes) Swap(i, j int) {
	ln.nodes[i], ln.nodes[j] = ln.nodes[j], ln.nodes[i]
}
