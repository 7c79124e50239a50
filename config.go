package dht

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Config infomation
type Config struct {
	ID         *ID
	Address    string
	PacketSize int
	Routes     []string
	// BucketSize is the capacity k of every routing table bucket
	BucketSize      int
	QueryTimeout    time.Duration
	MaxPending      int
	TokenInterval   time.Duration
	CheckInterval   time.Duration
	RefreshInterval time.Duration
	// RateLimit caps inbound packets per second, 0 disables it
	RateLimit     int
	PeerStoreSize int
	PeerTTL       time.Duration
	Clock         clock.Clock
}

// NewConfig returns config
func NewConfig() *Config {
	cfg := &Config{
		Address:         ":6881",
		PacketSize:      8192,
		Routes:          make([]string, 0),
		BucketSize:      8,
		QueryTimeout:    time.Second,
		MaxPending:      1000,
		TokenInterval:   10 * time.Minute,
		CheckInterval:   15 * time.Minute,
		RefreshInterval: 5 * time.Second,
		PeerStoreSize:   4096,
		PeerTTL:         30 * time.Minute,
		Clock:           clock.New(),
	}
	cfg.Routes = append(cfg.Routes, "router.bittorrent.com:6881")
	cfg.Routes = append(cfg.Routes, "dht.transmissionbt.com:6881")
	cfg.Routes = append(cfg.Routes, "router.utorrent.com:6881")
	return cfg
}
