package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func Test_storages(t *testing.T) {
	s := newStorages(16, time.Hour)
	id := NewRandomID()
	now := time.Now()

	assert.Nil(t, s.Peers(id, now))

	p1 := Peer{Address: "1.2.3.4", Port: 1}
	p2 := Peer{Address: "1.2.3.5", Port: 2}
	s.Insert(id, p1, now.Add(-2*time.Hour))
	s.Insert(id, p2, now)
	s.Insert(id, p2, now)
	assert.Equal(t, 1, s.Count())

	// stale peers are forgotten
	assert.Equal(t, []Peer{p2}, s.Peers(id, now))
	assert.Empty(t, s.Peers(NewRandomID(), now))
}

func Test_storage_limit(t *testing.T) {
	st := newStorage(NewRandomID())
	now := time.Now()
	for i := 0; i < maxPeerValues*2; i++ {
		st.Insert(Peer{Address: "10.0.0.1", Port: 1000 + i}, now)
	}
	assert.Len(t, st.Peers(now.Add(-time.Minute), maxPeerValues), maxPeerValues)
}

func Test_storages_expire(t *testing.T) {
	mock := clock.NewMock()
	s := newStorages(16, 30*time.Minute)
	id := NewRandomID()
	p := Peer{Address: "1.2.3.4", Port: 1}

	s.Insert(id, p, mock.Now())
	mock.Add(29 * time.Minute)
	assert.Equal(t, []Peer{p}, s.Peers(id, mock.Now()))

	// expiry follows the supplied clock, not wall time
	mock.Add(2 * time.Minute)
	assert.Empty(t, s.Peers(id, mock.Now()))
	assert.Zero(t, s.Count())
	assert.Nil(t, s.Peers(id, mock.Now()))
}

func Test_storages_size(t *testing.T) {
	s := newStorages(2, time.Hour)
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.Insert(NewRandomID(), Peer{Address: "1.2.3.4", Port: 1 + i}, now)
	}
	assert.Equal(t, 2, s.Count())
}
