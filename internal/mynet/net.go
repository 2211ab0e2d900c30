package mynet

import (
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"github.com/jackpal/gateway"
)

// LocalNetwork returns the interface that reaches the default gateway, with its own address
// and the IPv4 network it sits on.
func LocalNetwork(log logr.Logger) (*net.Interface, net.IP, *net.IPNet, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		log.Error(err, "Finding network gateway")
		return nil, nil, nil, err
	}
	log.V(1).Info("Found gateway", "addr", gw.String())

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Error(err, "Listing interfaces")
		return nil, nil, nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			log.Error(err, "Finding addresses", "interface", iface.Name)
			continue
		}
		for _, addr := range addrs {
			ip, nw, err := net.ParseCIDR(addr.String())
			if err != nil {
				log.Error(err, "Reading CIDR notation", "iface_addr", addr.String())
				continue
			}
			if ip.To4() != nil && nw.Contains(gw) {
				log.V(1).Info("Selecting interface: contains gateway", "interface", iface.Name, "iface_ip", ip, "network", nw, "gw_ip", gw)
				return &iface, ip, nw, nil
			}
		}
	}
	return nil, nil, nil, fmt.Errorf("did not find any interface on the same network as the network gateway IP %v", gw)
}

// Hosts lists the usable host addresses of an IPv4 network, skipping the network and
// broadcast addresses. Networks larger than maxHosts are refused.
func Hosts(nw *net.IPNet, maxHosts int) ([]net.IP, error) {
	base := nw.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("not an IPv4 network: %v", nw)
	}
	ones, bits := nw.Mask.Size()
	size := 1 << (bits - ones)
	if size-2 > maxHosts {
		return nil, fmt.Errorf("network %v has %d hosts, more than the %d allowed", nw, size-2, maxHosts)
	}

	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	start &= ^uint32(0) << (bits - ones)

	first, last := 1, size-1
	if size <= 2 {
		// /31 and /32 have no network or broadcast address
		first, last = 0, size
	}
	hosts := make([]net.IP, 0, last-first)
	for i := first; i < last; i++ {
		n := start + uint32(i)
		hosts = append(hosts, net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n)).To4())
	}
	return hosts, nil
}
