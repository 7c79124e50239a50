package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_transactions_timeout(t *testing.T) {
	mock := clock.NewMock()
	ts := newTransactions(mock, time.Second, 1000)
	done := make(chan error, 2)
	tx, err := ts.Insert("ping", func(r *Reply, err error) {
		done <- err
	})
	require.NoError(t, err)
	assert.Len(t, tx.id, tidLen)
	assert.Equal(t, tx, ts.Find(tx.id))
	assert.Equal(t, 1, ts.Count("ping"))

	mock.Add(999 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatal("fired early", err)
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Millisecond)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoResponse)
	case <-time.After(time.Second):
		t.Fatal("timeout not delivered")
	}
	assert.Nil(t, ts.Find(tx.id))
	assert.Zero(t, ts.Count("ping"))

	// a late reply cannot resolve it again
	assert.False(t, ts.Resolve(tx))
	select {
	case err := <-done:
		t.Fatal("resolved twice", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func Test_transactions_Resolve(t *testing.T) {
	mock := clock.NewMock()
	ts := newTransactions(mock, time.Second, 1000)
	done := make(chan error, 2)
	tx, err := ts.Insert("find_node", func(r *Reply, err error) {
		done <- err
	})
	require.NoError(t, err)

	assert.True(t, ts.Resolve(tx))
	assert.False(t, ts.Resolve(tx))
	assert.Nil(t, ts.Find(tx.id))
	assert.Zero(t, ts.Count("find_node"))

	mock.Add(2 * time.Second)
	select {
	case err := <-done:
		t.Fatal("timeout fired after resolve", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func Test_transactions_full(t *testing.T) {
	ts := newTransactions(clock.NewMock(), time.Second, 2)
	nop := func(*Reply, error) {}
	for i := 0; i < 2; i++ {
		_, err := ts.Insert("get_peers", nop)
		require.NoError(t, err)
	}
	_, err := ts.Insert("get_peers", nop)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, ts.Count("get_peers"))

	// the limit is per method
	_, err = ts.Insert("ping", nop)
	assert.NoError(t, err)
}

func Test_transactions_sharedClock(t *testing.T) {
	mock := clock.NewMock()
	a := newTransactions(mock, time.Second, 1000)
	b := newTransactions(mock, time.Second, 1000)
	nop := func(*Reply, error) {}

	ta, err := a.Insert("ping", nop)
	require.NoError(t, err)
	tb, err := b.Insert("ping", nop)
	require.NoError(t, err)
	assert.NotEqual(t, ta.id, tb.id)
}
