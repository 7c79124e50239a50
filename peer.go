package dht

import (
	"net"
	"strconv"
)

// Peer is a BitTorrent peer announced for an info hash
type Peer struct {
	Address string
	Port    int
}

func (p Peer) String() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}
