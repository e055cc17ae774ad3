package meshserver

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// beaconInterval is how often the LAN announcer broadcasts its presence.
const beaconInterval = 30 * time.Second

// announcePayload is the UDP datagram both sent and received.
type announcePayload struct {
	Type      string   `json:"type"`
	Port      int      `json:"port"`
	Trees     []uint32 `json:"trees"`
	Timestamp int64    `json:"timestamp"`
}

// Beacon is the parallel LAN announcer: it periodically broadcasts this
// agent's HTTP port and served chunks to every non-loopback subnet, and
// records senders of matching datagrams as known peers.
type Beacon struct {
	beaconPort int
	httpPort   int
	trees      func() []uint32
	peers      *KnownPeers
	log        *logrus.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBeacon constructs a Beacon. trees is called fresh on every broadcast
// tick to report the chunks currently served.
func NewBeacon(beaconPort, httpPort int, trees func() []uint32, peers *KnownPeers, logger *logrus.Logger) *Beacon {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Beacon{beaconPort: beaconPort, httpPort: httpPort, trees: trees, peers: peers, log: logger}
}

// Start binds the UDP socket and launches the broadcast and receive loops.
func (b *Beacon) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: b.beaconPort})
	if err != nil {
		b.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	b.conn = conn
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(2)
	go b.broadcastLoop(ctx)
	go b.receiveLoop(ctx)
	b.log.WithField("port", b.beaconPort).Info("lan beacon started")
	return nil
}

// Stop closes the socket and waits for both loops to exit.
func (b *Beacon) Stop() {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return
	}
	b.cancel()
	b.cancel = nil
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	b.wg.Wait()
	b.log.Info("lan beacon stopped")
}

func (b *Beacon) broadcastLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastOnce()
		}
	}
}

func (b *Beacon) broadcastOnce() {
	payload := announcePayload{Type: "announce", Port: b.httpPort, Trees: b.trees(), Timestamp: time.Now().Unix()}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, bcast := range broadcastAddrs() {
		addr := &net.UDPAddr{IP: bcast, Port: b.beaconPort}
		if _, err := b.conn.WriteToUDP(data, addr); err != nil {
			b.log.Debugf("beacon broadcast to %s: %v", addr, err)
		}
	}
}

func (b *Beacon) receiveLoop(ctx context.Context) {
	defer b.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		b.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		var payload announcePayload
		if err := json.Unmarshal(buf[:n], &payload); err != nil {
			continue
		}
		if payload.Type != "announce" {
			continue
		}
		if isLocalAddr(addr.IP) {
			continue
		}
		b.peers.Touch(addr.IP.String(), payload.Port, payload.Trees, time.Now())
	}
}

// broadcastAddrs computes the IPv4 subnet broadcast address of every
// non-loopback interface.
func broadcastAddrs() []net.IP {
	var out []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, len(ip4))
			for i := range ip4 {
				bcast[i] = ip4[i] | ^ipNet.Mask[i]
			}
			out = append(out, bcast)
		}
	}
	return out
}

// isLocalAddr reports whether ip belongs to one of this host's own
// interfaces, used to ignore self-sent announce datagrams.
func isLocalAddr(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.Equal(ip) {
			return true
		}
	}
	return false
}
