package dht

import "net"

// Handler adapts optional functions to Listener
type Handler struct {
	OnListening func(addr net.Addr)
	OnError     func(err error)
	OnAnnounce  func(infoHash ID, peer Peer)
}

func (h *Handler) Listening(addr net.Addr) {
	if h.OnListening != nil {
		h.OnListening(addr)
	}
}

func (h *Handler) Error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h *Handler) Announce(infoHash ID, peer Peer) {
	if h.OnAnnounce != nil {
		h.OnAnnounce(infoHash, peer)
	}
}
