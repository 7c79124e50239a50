package dht

import (
	"encoding/binary"
	"net"
)

const (
	compactPeerLen = 6
	compactNodeLen = idLen + compactPeerLen
)

// EncodeCompactNode concatenates 26-byte node records. Nodes without an
// IPv4 address or a valid port are skipped.
func EncodeCompactNode(nodes []*Node) []byte {
	b := make([]byte, 0, len(nodes)*compactNodeLen)
	for _, n := range nodes {
		p := EncodeCompactPeer(Peer{Address: n.address, Port: n.port})
		if p == nil {
			continue
		}
		b = append(b, n.id[:]...)
		b = append(b, p...)
	}
	return b
}

// DecodeCompactNode decodes 26-byte strides, trailing bytes are ignored
func DecodeCompactNode(b []byte) []*Node {
	nodes := make([]*Node, 0, len(b)/compactNodeLen)
	for ; len(b) >= compactNodeLen; b = b[compactNodeLen:] {
		var id ID
		copy(id[:], b[:idLen])
		p, _ := DecodeCompactPeer(b[idLen:compactNodeLen])
		nodes = append(nodes, NewNode(id, p.Address, p.Port, ""))
	}
	return nodes
}

// EncodeCompactPeer returns 4-byte IPv4 + 2-byte port, or nil
func EncodeCompactPeer(p Peer) []byte {
	ip := net.ParseIP(p.Address).To4()
	if ip == nil || p.Port <= 0 || p.Port > 65535 {
		return nil
	}
	b := make([]byte, compactPeerLen)
	copy(b, ip)
	binary.BigEndian.PutUint16(b[4:], uint16(p.Port))
	return b
}

// DecodeCompactPeer decodes the first 6 bytes of b
func DecodeCompactPeer(b []byte) (Peer, bool) {
	if len(b) < compactPeerLen {
		return Peer{}, false
	}
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	return Peer{Address: ip.String(), Port: int(binary.BigEndian.Uint16(b[4:6]))}, true
}

func encodeCompactPeers(peers []Peer) []string {
	values := make([]string, 0, len(peers))
	for _, p := range peers {
		if b := EncodeCompactPeer(p); b != nil {
			values = append(values, string(b))
		}
	}
	return values
}

func decodeCompactPeers(values []string) []Peer {
	peers := make([]Peer, 0, len(values))
	for _, v := range values {
		if p, ok := DecodeCompactPeer([]byte(v)); ok {
			peers = append(peers, p)
		}
	}
	return peers
}
