package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var errPeersFound = errors.New("peers found")

// search is the state of one lookup, its table is owned by the info hash
// so that buckets split around the target instead of around us.
type search struct {
	d     *DHT
	tor   ID
	table *Table
	round int
}

func newSearch(d *DHT, tor ID, nodes []*Node) *search {
	s := &search{
		d:     d,
		tor:   tor,
		table: NewTable(tor, d.cfg.BucketSize, nil),
	}
	for _, n := range nodes {
		s.table.Add(n.id[:], n.address, n.port, n.token)
	}
	return s
}

// Lookup searches the network for peers of infoHash. It stops at the first
// response carrying peers, or fails with ErrNotFound once a round no longer
// grows the set of closest nodes.
func (d *DHT) Lookup(ctx context.Context, infoHash ID) ([]Peer, error) {
	nodes := d.route.Closest(infoHash, lookupK)
	return newSearch(d, infoHash, nodes).run(ctx, nodes)
}

func (s *search) run(ctx context.Context, nodes []*Node) ([]Peer, error) {
	for {
		s.round++
		peers, err := s.query(ctx, nodes)
		if err != nil {
			return nil, err
		}
		if peers != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Lookup",
				"info_hash": s.tor,
				"round":     s.round,
				"peers":     len(peers),
			}).Info("Lookup found peers")
			return peers, nil
		}

		next := s.table.Closest(s.tor, lookupK)
		if len(next) == len(nodes) {
			logrus.WithFields(logrus.Fields{
				"function":  "Lookup",
				"info_hash": s.tor,
				"round":     s.round,
			}).Debug("Lookup converged without peers")
			return nil, fmt.Errorf("%s %w", s.tor, ErrNotFound)
		}
		nodes = next
	}
}

// query sends get_peers to every node and waits for all of them unless one
// returns peers first. Timeouts and remote errors count as empty answers.
func (s *search) query(ctx context.Context, nodes []*Node) ([]Peer, error) {
	var (
		once  sync.Once
		found []Peer
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			r, err := s.d.GetPeers(gctx, n.address, n.port, s.tor)
			if err != nil {
				if !errors.Is(err, ErrNoResponse) && gctx.Err() == nil {
					logrus.WithFields(logrus.Fields{
						"function": "Lookup",
						"node":     n.String(),
						"error":    err.Error(),
					}).Debug("get_peers failed")
				}
				return nil
			}
			if len(r.Peers) > 0 {
				once.Do(func() {
					found = r.Peers
				})
				return errPeersFound
			}
			for _, rn := range r.Nodes {
				s.table.Add(rn.id[:], rn.address, rn.port, "")
			}
			return nil
		})
	}
	err := g.Wait()
	if found != nil {
		return found, nil
	}
	if err != nil && !errors.Is(err, errPeersFound) {
		return nil, err
	}
	return nil, ctx.Err()
}
