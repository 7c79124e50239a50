package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Lookup_found(t *testing.T) {
	d, l := newTestDHT(t, nil)
	c, _ := newTestDHT(t, nil)
	h := NewRandomID()
	ctx := testContext(t)

	r, err := c.GetPeers(ctx, "127.0.0.1", d.Addr().Port, h)
	require.NoError(t, err)
	_, err = c.AnnouncePeer(ctx, "127.0.0.1", d.Addr().Port, h, r.Token, 7777, false)
	require.NoError(t, err)
	<-l.announces

	a, _ := newTestDHT(t, nil, d.Addr().String())
	require.Eventually(t, func() bool {
		return hasNode(a.AllNodes(), d.ID())
	}, 2*time.Second, 10*time.Millisecond)

	peers, err := a.Lookup(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []Peer{{Address: "127.0.0.1", Port: 7777}}, peers)
}

func Test_Lookup_notFound(t *testing.T) {
	b, _ := newTestDHT(t, nil)
	a, _ := newTestDHT(t, nil, b.Addr().String())
	require.Eventually(t, func() bool {
		return hasNode(a.AllNodes(), b.ID())
	}, 2*time.Second, 10*time.Millisecond)

	_, err := a.Lookup(testContext(t), NewRandomID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Lookup_empty(t *testing.T) {
	a, _ := newTestDHT(t, nil)
	_, err := a.Lookup(testContext(t), NewRandomID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Lookup_softFailures(t *testing.T) {
	cfg := NewConfig()
	cfg.QueryTimeout = 100 * time.Millisecond
	a, _ := newTestDHT(t, cfg)

	// contacts that never answer do not abort the round
	for i := 0; i < 3; i++ {
		id := NewRandomID()
		require.NoError(t, a.route.Add(id[:], "127.0.0.1", 1+i, ""))
	}
	_, err := a.Lookup(testContext(t), NewRandomID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Lookup_canceled(t *testing.T) {
	cfg := NewConfig()
	cfg.QueryTimeout = time.Second
	a, _ := newTestDHT(t, cfg)
	id := NewRandomID()
	require.NoError(t, a.route.Add(id[:], "127.0.0.1", 9, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Lookup(ctx, NewRandomID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// newChain returns a which knows only b, and b which knows c
func newChain(t *testing.T) (a, b, c *DHT, cl *testListener) {
	c, cl = newTestDHT(t, nil)
	b, _ = newTestDHT(t, nil)
	a, _ = newTestDHT(t, nil)

	_, _, err := b.FindNode(testContext(t), "127.0.0.1", c.Addr().Port, c.ID())
	require.NoError(t, err)
	require.True(t, hasNode(b.AllNodes(), c.ID()))

	require.NoError(t, a.route.Add(b.id[:], "127.0.0.1", b.Addr().Port, ""))
	require.False(t, hasNode(a.AllNodes(), c.ID()))
	return
}

func Test_Lookup_secondRound(t *testing.T) {
	a, b, c, cl := newChain(t)
	h := NewRandomID()
	ctx := testContext(t)

	r, err := b.GetPeers(ctx, "127.0.0.1", c.Addr().Port, h)
	require.NoError(t, err)
	_, err = b.AnnouncePeer(ctx, "127.0.0.1", c.Addr().Port, h, r.Token, 6000, false)
	require.NoError(t, err)
	<-cl.announces

	// round one only reaches b, which points at c
	nodes := a.route.Closest(h, lookupK)
	s := newSearch(a, h, nodes)
	peers, err := s.run(ctx, nodes)
	require.NoError(t, err)
	assert.Equal(t, []Peer{{Address: "127.0.0.1", Port: 6000}}, peers)
	assert.Equal(t, 2, s.round)
}

func Test_Lookup_converges(t *testing.T) {
	a, _, c, _ := newChain(t)
	h := NewRandomID()

	nodes := a.route.Closest(h, lookupK)
	s := newSearch(a, h, nodes)
	_, err := s.run(testContext(t), nodes)
	assert.ErrorIs(t, err, ErrNotFound)
	// round one grows the set with c, round two adds nothing
	assert.Equal(t, 2, s.round)
	assert.True(t, hasNode(s.table.Nodes(), c.ID()))
}
