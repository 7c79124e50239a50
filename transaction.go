package dht

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const tidLen = 5

// Reply is a decoded KRPC response
type Reply struct {
	ID    ID
	Addr  *net.UDPAddr
	Token string
	// Nodes is nil when the response carried no "nodes" key
	Nodes []*Node
	// Peers is nil when the response carried no "values" key
	Peers []Peer
}

// callback receives exactly one of a reply, a *Error or ErrNoResponse
type callback func(r *Reply, err error)

type transaction struct {
	id     string
	method string
	cb     callback
	time   time.Time
	timer  *clock.Timer
	done   bool
}

// transactions tracks outgoing queries until they are answered or time out.
// Transaction ids are random and never checked for collisions, a colliding
// id replaces the older entry which can then only time out.
type transactions struct {
	mu      sync.Mutex
	clock   clock.Clock
	rand    *rand.Rand
	timeout time.Duration
	limit   int
	pending map[string]*transaction
	counts  map[string]int
}

func newTransactions(clk clock.Clock, timeout time.Duration, limit int) *transactions {
	return &transactions{
		clock:   clk,
		rand:    newRand(),
		timeout: timeout,
		limit:   limit,
		pending: make(map[string]*transaction),
		counts:  make(map[string]int),
	}
}

// Insert registers a query and arms its timeout
func (ts *transactions) Insert(method string, cb callback) (*transaction, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.counts[method] >= ts.limit {
		return nil, fmt.Errorf("%s %w", method, ErrQueueFull)
	}
	tx := &transaction{
		id:     randomString(ts.rand, tidLen),
		method: method,
		cb:     cb,
		time:   ts.clock.Now(),
	}
	ts.pending[tx.id] = tx
	ts.counts[method]++
	tx.timer = ts.clock.AfterFunc(ts.timeout, func() {
		if ts.finish(tx) {
			tx.cb(nil, ErrNoResponse)
		}
	})
	return tx, nil
}

// Find returns the pending transaction with id, or nil
func (ts *transactions) Find(tid string) *transaction {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.pending[tid]
}

// Resolve settles tx, it reports false if tx already settled
func (ts *transactions) Resolve(tx *transaction) bool {
	if !ts.finish(tx) {
		return false
	}
	tx.timer.Stop()
	return true
}

func (ts *transactions) finish(tx *transaction) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if tx.done {
		return false
	}
	tx.done = true
	if ts.pending[tx.id] == tx {
		delete(ts.pending, tx.id)
	}
	ts.counts[tx.method]--
	return true
}

// Count returns the number of pending transactions of method
func (ts *transactions) Count(method string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.counts[method]
}
