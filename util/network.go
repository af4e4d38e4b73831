package util

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// PeerHost returns the numeric host part of addr, or addr.String()
// when it has no port.  It never blocks.
func PeerHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	s := addr.String()
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	return host
}

// LookupPeer resolves addr's host to a name for logging.  Resolution
// failure is not an error: the numeric form is returned instead, with
// the lookup error for the caller to log.
func LookupPeer(ctx context.Context, addr net.Addr, timeout time.Duration) (string, error) {
	host := PeerHost(addr)
	if net.ParseIP(host) == nil {
		return host, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	names, err := net.DefaultResolver.LookupAddr(ctx, host)
	if err != nil {
		return host, fmt.Errorf("reverse lookup %s: %w", host, err)
	}
	if len(names) == 0 {
		return host, nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// ResolveBindHost validates a bind host.  An empty host means every
// interface.  With ipv4Only the host must be an IPv4 literal.
func ResolveBindHost(host string, ipv4Only bool) (string, error) {
	if host == "" {
		if ipv4Only {
			return "0.0.0.0", nil
		}
		return "", nil
	}
	if ipv4Only {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return "", fmt.Errorf("cannot parse %q as an IPv4 address (--ipv4)", host)
		}
		return ip.String(), nil
	}
	return host, nil
}
