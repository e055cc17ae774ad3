package dht

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// PeerRecord describes a peer known to this node.
type PeerRecord struct {
	NodeID            NodeID
	Host              string
	Port              int
	LastSeen          time.Time
	AdvertisedChunks  map[uint32]struct{}
}

// Addr returns "host:port".
func (p PeerRecord) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// minPort and maxPort bound the valid port range (spec section 3).
const (
	minPort = 1024
	maxPort = 65535
)

// subnetCap is the maximum number of peers tolerated per IPv4 /24.
const subnetCap = 5

var errBadIDLength = errs.New(errs.BadInput, "dht.ParseNodeID", "node id must be 32 bytes")

// Validator enforces peer-record admission rules: host shape, port range,
// RFC-1918 rejection in production mode, and a per-/24 subnet cap.
type Validator struct {
	// Production, when true, rejects non-loopback private IPv4 ranges.
	Production bool
}

// Validate checks host/port shape and RFC-1918 policy. It does not check the
// subnet cap, which requires knowledge of already-admitted peers and is
// applied by the routing table at insertion time.
func (v Validator) Validate(host string, port int) error {
	const op = "dht.Validator.Validate"
	if host == "" {
		return errs.New(errs.BadInput, op, "empty host")
	}
	if port < minPort || port > maxPort {
		return errs.New(errs.BadInput, op, "port out of range")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		if !isValidDomain(host) {
			return errs.New(errs.BadInput, op, "host is neither IPv4 dotted-quad nor domain name")
		}
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return errs.New(errs.BadInput, op, "only IPv4 dotted-quad is accepted")
	}
	if v.Production && !ip4.IsLoopback() && isPrivateIPv4(ip4) {
		return errs.New(errs.BadInput, op, "private IPv4 rejected in production mode")
	}
	return nil
}

func isValidDomain(host string) bool {
	if strings.ContainsAny(host, " \t\n/\\") {
		return false
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}

func isPrivateIPv4(ip4 net.IP) bool {
	for _, block := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			continue
		}
		if cidr.Contains(ip4) {
			return true
		}
	}
	return false
}

// subnet24 returns the /24 prefix of host, or "" if host is not an IPv4
// address (domain-name peers are exempt from the subnet cap).
func subnet24(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return ""
	}
	return net.IPv4(ip4[0], ip4[1], ip4[2], 0).String()
}
