// Package transport creates the listening endpoints.  It decides where
// a server listens and knows nothing about what is spoken over the
// sockets it returns.
package transport

import (
	"context"
	"fmt"
	"net"

	ncerr "sockserv/internal/errors"
	"sockserv/util"
)

// ListenConfig describes one listening endpoint.
type ListenConfig struct {
	Host     string // "" binds every interface
	Port     int    // 0 picks an ephemeral port
	Backlog  int    // pending-connection queue depth (TCP only)
	IPv4Only bool   // bind a literal IPv4 address, no resolution
}

func (c ListenConfig) addr() string { return util.FormatAddr(c.Host, c.Port) }

// ListenTCP binds and listens.  The returned listener is the only
// handle on the socket; closing it stops the server.
func ListenTCP(ctx context.Context, cfg ListenConfig) (net.Listener, error) {
	ips, err := bindIPs(ctx, cfg)
	if err != nil {
		return nil, ncerr.Wrap("listen", cfg.addr(), err)
	}

	var errs []error
	for _, ip := range ips {
		ln, err := listenStream(ip, cfg.Port, cfg.Backlog)
		if err == nil {
			return ln, nil
		}
		errs = append(errs, err)
	}
	return nil, ncerr.Wrap("listen", cfg.addr(), ncerr.Join(errs...))
}

// ListenUDP binds a datagram socket.  With IPv4Only the socket is an
// AF_INET socket on the literal address; otherwise the host is
// resolved and the first address that binds wins.
func ListenUDP(ctx context.Context, cfg ListenConfig) (net.PacketConn, error) {
	if cfg.IPv4Only {
		host, err := util.ResolveBindHost(cfg.Host, true)
		if err != nil {
			return nil, ncerr.Wrap("listen", cfg.addr(), err)
		}
		pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(host), Port: cfg.Port})
		if err != nil {
			return nil, ncerr.Wrap("listen", cfg.addr(), err)
		}
		return pc, nil
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", cfg.addr())
	if err != nil {
		return nil, ncerr.Wrap("listen", cfg.addr(), err)
	}
	return pc, nil
}

// bindIPs returns the candidate addresses for cfg.Host, in the order
// they should be tried.  A nil entry means the wildcard address.
func bindIPs(ctx context.Context, cfg ListenConfig) ([]net.IP, error) {
	host, err := util.ResolveBindHost(cfg.Host, cfg.IPv4Only)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return []net.IP{nil}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %q: no addresses", host)
	}
	return ips, nil
}
