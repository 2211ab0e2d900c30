package mynet

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	mdns "github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
)

const DefaultMdnsTimeout = 5 * time.Second

// Resolver looks host names up through the system resolver and falls back to a multicast
// DNS query for names in the .local domain.
type Resolver struct {
	mu      sync.Mutex
	log     logr.Logger
	timeout time.Duration
	conn    *mdns.Conn
	l4      *net.UDPConn
}

func NewResolver(log logr.Logger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultMdnsTimeout
	}
	return &Resolver{
		log:     log.WithName("Resolver"),
		timeout: timeout,
	}
}

func (r *Resolver) start() (*mdns.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return r.conn, nil
	}

	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		r.log.Error(err, "Unable to resolve mDNS IPv4 UDP address", "address", mdns.DefaultAddressIPv4)
		return nil, err
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		r.log.Error(err, "Unable to listen on mDNS IPv4 UDP address", "address", addr4)
		return nil, err
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(l4), nil, &mdns.Config{})
	if err != nil {
		l4.Close()
		r.log.Error(err, "Unable to start mDNS client")
		return nil, err
	}
	r.conn = conn
	r.l4 = l4
	r.log.V(1).Info("Started mDNS client")
	return conn, nil
}

// LookupHost returns the addresses of host. Literal IP addresses are returned as they are.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	if !strings.HasSuffix(host, ".local") {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err == nil {
			ips := make([]net.IP, 0, len(addrs))
			for _, addr := range addrs {
				if ip := net.ParseIP(addr); ip != nil {
					ips = append(ips, ip)
				}
			}
			return ips, nil
		}
		r.log.V(1).Info("System lookup failed, trying mDNS", "host", host, "error", err)
		host = host + ".local"
	}

	conn, err := r.start()
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, addr, err := conn.QueryAddr(queryCtx, host)
	if err != nil {
		r.log.Error(err, "Failed to query mDNS", "host", host)
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	return []net.IP{addr.AsSlice()}, nil
}

func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.l4.Close()
	r.conn = nil
	return err
}
