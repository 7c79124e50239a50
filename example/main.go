package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	dht "github.com/huajiayi/node-bittorrent"
)

func main() {
	godotenv.Load()

	cfg := dht.NewConfig()
	if addr := os.Getenv("DHT_ADDRESS"); addr != "" {
		cfg.Address = addr
	}
	if routes := os.Getenv("DHT_ROUTERS"); routes != "" {
		cfg.Routes = strings.Split(routes, ",")
	}

	var (
		lookup  = flag.String("lookup", "", "hex info hash to look up once the routing table is warm")
		verbose = flag.Bool("v", false, "log every packet")
	)
	flag.StringVar(&cfg.Address, "addr", cfg.Address, "udp listen address")
	flag.IntVar(&cfg.RateLimit, "rate", 0, "maximum inbound packets per second, 0 disables")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	d := dht.NewDHT(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		d.Destroy()
	}()

	h := &dht.Handler{
		OnListening: func(addr net.Addr) {
			logrus.WithField("address", addr.String()).Info("Server listening")
			if *lookup != "" {
				go runLookup(ctx, d, *lookup)
			}
		},
		OnError: func(err error) {
			logrus.WithError(err).Warn("Server error")
		},
		OnAnnounce: func(infoHash dht.ID, peer dht.Peer) {
			logrus.WithFields(logrus.Fields{
				"magnet": "magnet:?xt=urn:btih:" + strings.ToUpper(infoHash.String()),
				"peer":   peer.String(),
			}).Info("Announce received")
		},
	}
	if err := d.Run(h); err != nil {
		logrus.WithError(err).Fatal("DHT stopped")
	}
}

func runLookup(ctx context.Context, d *dht.DHT, hex string) {
	infoHash, err := dht.ParseID(hex)
	if err != nil {
		logrus.WithError(err).Error("Bad info hash")
		return
	}
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return
	}
	peers, err := d.Lookup(ctx, infoHash)
	if err != nil {
		logrus.WithError(err).Warn("Lookup failed")
		return
	}
	for _, p := range peers {
		logrus.WithFields(logrus.Fields{
			"info_hash": infoHash.String(),
			"peer":      p.String(),
		}).Info("Peer found")
	}
}
