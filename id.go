package dht

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/big"
)

const idLen int = 20

// ZeroID "0000000000000000000000000000000000000000"
var ZeroID ID

// ID consists of 160 bits
type ID [idLen]byte

// NewID returns a id, b must be exactly 20 bytes
func NewID(b []byte) (id ID, err error) {
	if len(b) != idLen {
		err = fmt.Errorf("%w: %d bytes", ErrInvalidID, len(b))
		return
	}
	copy(id[:], b)
	return
}

// ParseID returns a id from 40 hex characters
func ParseID(s string) (id ID, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidID, err)
		return
	}
	return NewID(b)
}

// NewRandomID returns a random id
func NewRandomID() ID {
	var seed [64]byte
	rand.Read(seed[:])
	return sha1.Sum(seed[:])
}

// Bytes returns a copy of the raw id
func (id ID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// Bit reports whether the i-th bit, counted from the most significant one, is set
func (id ID) Bit(i int) bool {
	return id[i>>3]&(0x80>>uint(i&7)) != 0
}

// Xor returns id ^ o
func (id ID) Xor(o ID) (d ID) {
	for i := 0; i < idLen; i++ {
		d[i] = id[i] ^ o[i]
	}
	return
}

// Closer reports whether a is strictly closer to id than b
func (id ID) Closer(a, b ID) bool {
	da, db := id.Xor(a), id.Xor(b)
	return bytes.Compare(da[:], db[:]) < 0
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Distance returns the xor distance of a and b as an unsigned big-endian
// integer. The shorter operand is zero-extended on the left.
func Distance(a, b []byte) *big.Int {
	if len(a) < len(b) {
		a, b = b, a
	}
	d := make([]byte, len(a))
	off := len(a) - len(b)
	for i := range a {
		d[i] = a[i]
		if i >= off {
			d[i] ^= b[i-off]
		}
	}
	return new(big.Int).SetBytes(d)
}
