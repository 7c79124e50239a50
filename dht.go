package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// lookupK is the number of contacts returned by find_node and get_peers
const lookupK = 8

// DHT server
type DHT struct {
	cfg     *Config
	id      ID
	clock   clock.Clock
	route   *Table
	token   *Token
	storage *storages
	txs     *transactions
	limiter *rate.Limiter

	mu       sync.RWMutex
	conn     net.PacketConn
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc
	exit   chan struct{}
	once   sync.Once
}

// Info describes the local node
type Info struct {
	ID      ID
	Address string
	Port    int
}

// NewDHT returns DHT
func NewDHT(cfg *Config) *DHT {
	cfg = normalize(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	d := &DHT{
		cfg:      cfg,
		id:       *cfg.ID,
		clock:    cfg.Clock,
		token:    NewToken(),
		storage:  newStorages(cfg.PeerStoreSize, cfg.PeerTTL),
		txs:      newTransactions(cfg.Clock, cfg.QueryTimeout, cfg.MaxPending),
		listener: &Handler{},
		ctx:      ctx,
		cancel:   cancel,
		exit:     make(chan struct{}),
	}
	d.route = NewTable(d.id, cfg.BucketSize, d)
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}
	return d
}

func normalize(cfg *Config) *Config {
	def := NewConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.ID == nil {
		id := NewRandomID()
		c.ID = &id
	}
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.PacketSize <= 0 {
		c.PacketSize = def.PacketSize
	}
	if c.BucketSize <= 0 {
		c.BucketSize = def.BucketSize
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.TokenInterval <= 0 {
		c.TokenInterval = def.TokenInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.PeerStoreSize <= 0 {
		c.PeerStoreSize = def.PeerStoreSize
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = def.PeerTTL
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return &c
}

// Run binds the udp socket and serves until Destroy is called
func (d *DHT) Run(l Listener) error {
	if l != nil {
		d.mu.Lock()
		d.listener = l
		d.mu.Unlock()
	}

	conn, err := net.ListenPacket("udp4", d.cfg.Address)
	if err != nil {
		err = fmt.Errorf("listen %s: %w", d.cfg.Address, err)
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"address":  d.cfg.Address,
			"error":    err.Error(),
		}).Error("Failed to bind dht socket")
		d.emitError(err)
		return err
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	select {
	case <-d.exit:
		conn.Close()
		return ErrClosed
	default:
	}

	info := d.Info()
	d.route.Add(d.id[:], info.Address, info.Port, "")
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"id":       d.id,
		"address":  conn.LocalAddr().String(),
	}).Info("DHT listening")
	d.emitListening(conn.LocalAddr())

	msgs := make(chan *udpMessage, 1024)
	go d.recvMessage(conn, msgs)
	go func() {
		if err := d.bootstrap(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "bootstrap",
				"error":    err.Error(),
			}).Warn("Some bootstrap routes failed")
		}
	}()
	d.loop(msgs)
	return nil
}

// Destroy closes the socket and stops all processing
func (d *DHT) Destroy() (err error) {
	d.once.Do(func() {
		close(d.exit)
		d.cancel()
		d.mu.RLock()
		conn := d.conn
		d.mu.RUnlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return
}

// ID returns dht id
func (d *DHT) ID() ID {
	return d.id
}

// Addr returns dht address
func (d *DHT) Addr() *net.UDPAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn != nil {
		return d.conn.LocalAddr().(*net.UDPAddr)
	}
	return nil
}

// Route returns route table
func (d *DHT) Route() *Table {
	return d.route
}

// Info returns the id and the address other nodes reach us at
func (d *DHT) Info() Info {
	info := Info{ID: d.id}
	host, port, _ := net.SplitHostPort(d.cfg.Address)
	info.Port, _ = strconv.Atoi(port)
	if addr := d.Addr(); addr != nil {
		info.Port = addr.Port
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
		info.Address = ip.String()
	} else {
		info.Address = localIPv4()
	}
	return info
}

// AllNodes returns every node of the routing table
func (d *DHT) AllNodes() []*Node {
	return d.route.Nodes()
}

func (d *DHT) loop(msgs <-chan *udpMessage) {
	secret := d.clock.Ticker(d.cfg.TokenInterval)
	defer secret.Stop()
	check := d.clock.Ticker(d.cfg.CheckInterval)
	defer check.Stop()
	refresh := d.clock.Ticker(d.cfg.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-d.exit:
			return
		case <-secret.C:
			d.token.Rotate()
		case <-check.C:
			go d.route.Check(d.ctx)
		case <-refresh.C:
			d.refresh()
		case m := <-msgs:
			d.handleMessage(m)
		}
	}
}

type udpMessage struct {
	addr *net.UDPAddr
	data []byte
}

func (d *DHT) recvMessage(conn net.PacketConn, msgs chan<- *udpMessage) {
	for {
		buf := make([]byte, d.cfg.PacketSize)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-d.exit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "recvMessage",
				"error":    err.Error(),
			}).Warn("Failed to read packet")
			continue
		}
		if d.limiter != nil && !d.limiter.Allow() {
			continue
		}
		uaddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		select {
		case msgs <- &udpMessage{uaddr, buf[:n]}:
		case <-d.exit:
			return
		}
	}
}

func (d *DHT) bootstrap() (errs error) {
	a := &answer{ID: string(d.id[:]), Target: string(d.id[:])}
	for _, route := range d.cfg.Routes {
		host, port, err := net.SplitHostPort(route)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("route %s: %w", route, err))
			continue
		}
		if err := d.query(host, p, "find_node", a, d.report("bootstrap")); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("route %s: %w", route, err))
		}
	}
	return
}

// refresh sends find_node for our own id to every known node
func (d *DHT) refresh() {
	a := &answer{ID: string(d.id[:]), Target: string(d.id[:])}
	for _, n := range d.route.Nodes() {
		if n.id == d.id {
			continue
		}
		d.query(n.address, n.port, "find_node", a, d.report("refresh"))
	}
}

// report emits every failure other than a timeout
func (d *DHT) report(what string) callback {
	return func(r *Reply, err error) {
		if err != nil && !errors.Is(err, ErrNoResponse) {
			d.emitError(fmt.Errorf("%s: %w", what, err))
		}
	}
}

func (d *DHT) handleMessage(m *udpMessage) {
	var p packet
	if err := p.Unmarshal(m.data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"from":     m.addr.String(),
			"error":    err.Error(),
		}).Debug("Failed to decode packet")
		d.sendError(m.addr, p.T, ProtocolError)
		return
	}
	if p.Y == "q" {
		d.handleQueryMessage(&p, m.addr)
	} else {
		d.handleReplyMessage(&p, m.addr)
	}
}

func (d *DHT) handleQueryMessage(p *packet, addr *net.UDPAddr) {
	if p.A == nil {
		d.sendError(addr, p.T, ProtocolError)
		return
	}
	id, err := NewID([]byte(p.A.ID))
	if err != nil {
		d.sendError(addr, p.T, ProtocolError)
		return
	}
	host := addr.IP.String()

	logrus.WithFields(logrus.Fields{
		"function": "handleQueryMessage",
		"method":   p.Q,
		"id":       id,
		"from":     addr.String(),
	}).Debug("Query received")

	switch p.Q {
	case "ping":
		d.sendReply(addr, p.T, &response{ID: string(d.id[:])})
	case "find_node":
		target, err := NewID([]byte(p.A.Target))
		if err != nil {
			d.sendError(addr, p.T, ProtocolError)
			return
		}
		nodes := d.route.Closest(target, lookupK)
		d.route.Add(id[:], host, addr.Port, "")
		d.sendReply(addr, p.T, &response{
			ID:    string(d.id[:]),
			Nodes: string(EncodeCompactNode(nodes)),
		})
	case "get_peers":
		infoHash, err := NewID([]byte(p.A.InfoHash))
		if err != nil {
			d.sendError(addr, p.T, ProtocolError)
			return
		}
		token := d.token.Get()
		nodes := d.route.Closest(infoHash, lookupK)
		d.route.Add(id[:], host, addr.Port, token)
		r := &response{
			ID:    string(d.id[:]),
			Token: token,
			Nodes: string(EncodeCompactNode(nodes)),
		}
		if peers := d.storage.Peers(infoHash, d.clock.Now()); len(peers) > 0 {
			r.Values = encodeCompactPeers(peers)
		}
		d.sendReply(addr, p.T, r)
	case "announce_peer":
		infoHash, err := NewID([]byte(p.A.InfoHash))
		if err != nil {
			d.sendError(addr, p.T, ProtocolError)
			return
		}
		if !d.token.IsValid(p.A.Token) {
			logrus.WithFields(logrus.Fields{
				"function": "handleQueryMessage",
				"from":     addr.String(),
			}).Debug("Dropping announce_peer with invalid token")
			return
		}
		port := p.A.Port
		if p.A.ImpliedPort == 1 {
			port = addr.Port
		}
		peer := Peer{Address: host, Port: port}
		d.storage.Insert(infoHash, peer, d.clock.Now())
		d.emitAnnounce(infoHash, peer)
		d.sendReply(addr, p.T, &response{ID: string(d.id[:])})
	case "sample_infohashes":
		// accepted, not implemented
	default:
		d.sendError(addr, p.T, MethodUnknown)
	}
}

func (d *DHT) handleReplyMessage(p *packet, addr *net.UDPAddr) {
	tx := d.txs.Find(p.T)
	if tx == nil {
		return
	}
	if p.Y == "e" {
		if d.txs.Resolve(tx) {
			tx.cb(nil, p.failure())
		}
		return
	}
	if p.R == nil {
		d.sendError(addr, p.T, ProtocolError)
		return
	}
	id, err := NewID([]byte(p.R.ID))
	if err != nil {
		d.sendError(addr, p.T, ProtocolError)
		return
	}
	if !d.txs.Resolve(tx) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleReplyMessage",
		"method":   tx.method,
		"id":       id,
		"from":     addr.String(),
		"rtt":      d.clock.Since(tx.time).String(),
	}).Debug("Reply received")

	r := &Reply{ID: id, Addr: addr, Token: p.R.Token}
	switch tx.method {
	case "ping", "announce_peer":
	case "find_node":
		r.Nodes = DecodeCompactNode([]byte(p.R.Nodes))
		d.merge(r.Nodes)
	case "get_peers":
		if len(p.R.Values) > 0 {
			r.Peers = decodeCompactPeers(p.R.Values)
		}
		if p.R.Nodes != "" {
			r.Nodes = DecodeCompactNode([]byte(p.R.Nodes))
			d.merge(r.Nodes)
		}
	default:
		d.sendError(addr, p.T, ProtocolError)
		tx.cb(nil, newError(ProtocolError))
		return
	}
	tx.cb(r, nil)
}

func (d *DHT) merge(nodes []*Node) {
	for _, n := range nodes {
		d.route.Add(n.id[:], n.address, n.port, "")
	}
}

// query sends a KRPC query, cb is invoked once unless an error is returned
func (d *DHT) query(address string, port int, method string, a *answer, cb callback) error {
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		err = fmt.Errorf("%s: %w", method, err)
		d.emitError(err)
		return err
	}
	tx, err := d.txs.Insert(method, cb)
	if err != nil {
		d.emitError(err)
		return err
	}
	if err := d.send(addr, newQueryPacket(tx.id, method, a)); err != nil {
		d.emitError(fmt.Errorf("query %s: %w", method, err))
	}
	return nil
}

// call is the blocking form of query
func (d *DHT) call(ctx context.Context, address string, port int, method string, a *answer) (*Reply, error) {
	type result struct {
		r   *Reply
		err error
	}
	ch := make(chan result, 1)
	err := d.query(address, port, method, a, func(r *Reply, err error) {
		ch <- result{r, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.r, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.exit:
		return nil, ErrClosed
	}
}

// Ping returns the id of the node at address:port
func (d *DHT) Ping(ctx context.Context, address string, port int) (ID, error) {
	r, err := d.call(ctx, address, port, "ping", &answer{ID: string(d.id[:])})
	if err != nil {
		return ZeroID, err
	}
	return r.ID, nil
}

// FindNode asks address:port for the nodes closest to target. Returned
// nodes are merged into the routing table.
func (d *DHT) FindNode(ctx context.Context, address string, port int, target ID) (ID, []*Node, error) {
	a := &answer{ID: string(d.id[:]), Target: string(target[:])}
	r, err := d.call(ctx, address, port, "find_node", a)
	if err != nil {
		return ZeroID, nil, err
	}
	return r.ID, r.Nodes, nil
}

// GetPeers asks address:port for peers of infoHash
func (d *DHT) GetPeers(ctx context.Context, address string, port int, infoHash ID) (*Reply, error) {
	a := &answer{ID: string(d.id[:]), InfoHash: string(infoHash[:])}
	return d.call(ctx, address, port, "get_peers", a)
}

// AnnouncePeer announces that we serve infoHash on peerPort. With
// impliedPort set the remote uses our udp source port instead.
func (d *DHT) AnnouncePeer(ctx context.Context, address string, port int, infoHash ID, token string, peerPort int, impliedPort bool) (ID, error) {
	a := &answer{
		ID:       string(d.id[:]),
		InfoHash: string(infoHash[:]),
		Token:    token,
		Port:     peerPort,
	}
	if impliedPort {
		a.ImpliedPort = 1
	}
	r, err := d.call(ctx, address, port, "announce_peer", a)
	if err != nil {
		return ZeroID, err
	}
	return r.ID, nil
}

func (d *DHT) send(addr *net.UDPAddr, p *packet) error {
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}
	_, err = conn.WriteTo(b, addr)
	return err
}

func (d *DHT) sendReply(addr *net.UDPAddr, tid string, r *response) {
	if err := d.send(addr, newReplyPacket(tid, r)); err != nil {
		d.emitError(fmt.Errorf("response: %w", err))
	}
}

func (d *DHT) sendError(addr *net.UDPAddr, tid string, code int) {
	if err := d.send(addr, newErrorPacket(tid, code)); err != nil {
		d.emitError(fmt.Errorf("error %d: %w", code, err))
	}
}

func (d *DHT) emitListening(addr net.Addr) {
	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	l.Listening(addr)
}

func (d *DHT) emitError(err error) {
	logrus.WithFields(logrus.Fields{
		"id":    d.id,
		"error": err.Error(),
	}).Warn("DHT error")
	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	l.Error(err)
}

func (d *DHT) emitAnnounce(infoHash ID, peer Peer) {
	logrus.WithFields(logrus.Fields{
		"info_hash": infoHash,
		"peer":      peer.String(),
	}).Info("Peer announced")
	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	l.Announce(infoHash, peer)
}

// localIPv4 returns the first non-loopback IPv4 address of the host
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip := ipnet.IP.To4(); ip != nil {
				return ip.String()
			}
		}
	}
	return "127.0.0.1"
}
