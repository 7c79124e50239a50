package dht

import (
	"fmt"
	"net"
	"strconv"
)

// Node represent a dht node
type Node struct {
	id      ID
	address string
	port    int
	token   string
	good    bool
}

// NewNode returns a good node
func NewNode(id ID, address string, port int, token string) *Node {
	return &Node{
		id:      id,
		address: address,
		port:    port,
		token:   token,
		good:    true,
	}
}

// ID returns id
func (n *Node) ID() ID {
	return n.id
}

// Address returns host
func (n *Node) Address() string {
	return n.address
}

// Port returns udp port
func (n *Node) Port() int {
	return n.port
}

// Token returns the token issued to this node, if any
func (n *Node) Token() string {
	return n.token
}

// IsGood reports whether the node answered its last liveness check
func (n *Node) IsGood() bool {
	return n.good
}

// Addr returns "host:port"
func (n *Node) Addr() string {
	return net.JoinHostPort(n.address, strconv.Itoa(n.port))
}

// replace overwrites the contact in place and marks it good again.
func (n *Node) replace(id ID, address string, port int, token string) {
	n.id = id
	n.address = address
	n.port = port
	n.token = token
	n.good = true
}

func (n *Node) clone() *Node {
	c := *n
	return &c
}

func (n *Node) String() string {
	return fmt.Sprintf("%v %v", n.id, n.Addr())
}
