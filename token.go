package dht

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

const (
	tokenLen   = 10
	tokenChars = "ABCDEFGHJKLMNOPQRSTUVWXYZabcdefhijklmnopqrstuvwxyz12345678"
)

// Token holds the single credential announce_peer requests must carry.
// Rotate invalidates the previous value immediately.
type Token struct {
	mu   sync.RWMutex
	cur  string
	rand *rand.Rand
}

// NewToken returns a token manager with a fresh value
func NewToken() *Token {
	t := &Token{
		rand: newRand(),
	}
	t.Rotate()
	return t
}

// Rotate replaces the current value
func (t *Token) Rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = randomString(t.rand, tokenLen)
}

// Get returns the current value
func (t *Token) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}

// IsValid reports whether s equals the current value
func (t *Token) IsValid(s string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return s == t.cur
}

func randomString(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenChars[r.Intn(len(tokenChars))]
	}
	return string(b)
}

// newRand returns a generator seeded from crypto/rand
func newRand() *rand.Rand {
	var seed [8]byte
	crand.Read(seed[:])
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(seed[:]))))
}
