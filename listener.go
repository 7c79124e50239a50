package dht

import "net"

// Listener interface
type Listener interface {
	Listening(addr net.Addr)
	Error(err error)
	Announce(infoHash ID, peer Peer)
}
