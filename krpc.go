package dht

import (
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

// KRPC error codes
const (
	GenericError  = 201
	ServerError   = 202
	ProtocolError = 203
	MethodUnknown = 204
)

var errorMessages = map[int]string{
	GenericError:  "Generic Error",
	ServerError:   "Server Error",
	ProtocolError: "Protocol Error",
	MethodUnknown: "Method Unknown",
}

var (
	// ErrInvalidID is returned for identifiers that are not 20 bytes
	ErrInvalidID = errors.New("invalid id")
	// ErrInvalidPort is returned for destination ports outside 1-65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrNoResponse is delivered when a query times out
	ErrNoResponse = errors.New("no response")
	// ErrQueueFull is returned when too many queries of one method are pending
	ErrQueueFull = errors.New("event queue is full")
	// ErrNotFound is returned by a lookup that converged without peers
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned once the dht has been destroyed or before it runs
	ErrClosed = errors.New("dht closed")
)

// Error is a KRPC error message
type Error struct {
	Code    int
	Message string
}

func newError(code int) *Error {
	return &Error{Code: code, Message: errorMessages[code]}
}

func (e *Error) Error() string {
	return fmt.Sprintf("krpc error %d: %s", e.Code, e.Message)
}

// krpc protocol message packet
type packet struct {
	T string        `bencode:"t"`
	Y string        `bencode:"y"`
	Q string        `bencode:"q,omitempty"`
	A *answer       `bencode:"a,omitempty"`
	R *response     `bencode:"r,omitempty"`
	E []interface{} `bencode:"e,omitempty"`
}

type response struct {
	ID     string   `bencode:"id"`
	Token  string   `bencode:"token,omitempty"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

type answer struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Token       string `bencode:"token,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
}

func newQueryPacket(tid, q string, a *answer) *packet {
	return &packet{T: tid, Y: "q", Q: q, A: a}
}

func newReplyPacket(tid string, r *response) *packet {
	return &packet{T: tid, Y: "r", R: r}
}

func newErrorPacket(tid string, code int) *packet {
	if tid == "" {
		tid = "e"
	}
	return &packet{T: tid, Y: "e", E: []interface{}{code, errorMessages[code]}}
}

// failure returns the error carried by an "e" message
func (p *packet) failure() *Error {
	if len(p.E) != 2 {
		return newError(ProtocolError)
	}
	e := &Error{}
	switch code := p.E[0].(type) {
	case int64:
		e.Code = int(code)
	case int:
		e.Code = code
	default:
		return newError(ProtocolError)
	}
	switch msg := p.E[1].(type) {
	case string:
		e.Message = msg
	case []byte:
		e.Message = string(msg)
	}
	return e
}

func (p *packet) Marshal() ([]byte, error) {
	return bencode.EncodeBytes(p)
}

func (p *packet) Unmarshal(b []byte) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("panic() when bencode.DecodeBytes: %v", x)
		}
	}()
	err = bencode.DecodeBytes(b, p)
	return
}
