package dht

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxPeerValues = 50

// storage keeps the peers announced for one info hash
type storage struct {
	mu sync.Mutex
	id ID
	ps map[Peer]time.Time
}

func newStorage(id ID) *storage {
	return &storage{
		id: id,
		ps: make(map[Peer]time.Time),
	}
}

func (s *storage) Insert(p Peer, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps[p] = now
}

func (s *storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ps)
}

// Peers returns up to n peers announced after since and forgets the rest
func (s *storage) Peers(since time.Time, n int) []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]Peer, 0, len(s.ps))
	for p, t := range s.ps {
		if t.Before(since) {
			delete(s.ps, p)
			continue
		}
		if len(peers) < n {
			peers = append(peers, p)
		}
	}
	return peers
}

// storages is a bounded set of storage keyed by info hash. Expiry follows
// the dht clock, an info hash is dropped once all of its peers are stale.
type storages struct {
	mu  sync.Mutex
	ttl time.Duration
	ss  *lru.Cache[ID, *storage]
}

func newStorages(size int, ttl time.Duration) *storages {
	// lru.New only fails for a non-positive size
	ss, _ := lru.New[ID, *storage](max(size, 1))
	return &storages{
		ttl: ttl,
		ss:  ss,
	}
}

func (s *storages) Count() int {
	return s.ss.Len()
}

func (s *storages) Insert(id ID, p Peer, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.ss.Get(id)
	if !ok {
		st = newStorage(id)
		s.ss.Add(id, st)
	}
	st.Insert(p, now)
}

func (s *storages) Peers(id ID, now time.Time) []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.ss.Peek(id)
	if !ok {
		return nil
	}
	peers := st.Peers(now.Add(-s.ttl), maxPeerValues)
	if st.Len() == 0 {
		s.ss.Remove(id)
	}
	return peers
}
