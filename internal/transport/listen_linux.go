//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenStream builds the socket by hand so the backlog is exactly
// what was asked for; net.Listen always uses somaxconn.
func listenStream(ip net.IP, port, backlog int) (net.Listener, error) {
	family := unix.AF_INET6
	if ip != nil && ip.To4() != nil {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		if ip == nil && errors.Is(err, unix.EAFNOSUPPORT) {
			// No IPv6 on this host; fall back to the IPv4 wildcard.
			return listenStream(net.IPv4zero, port, backlog)
		}
		return nil, os.NewSyscallError("socket", err)
	}

	if err := bindAndListen(fd, family, ip, port, backlog); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, err
	}

	// FileListener dups the descriptor; f owns the original.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp-listener-%d", port))
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}

func bindAndListen(fd, family int, ip net.IP, port, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip.To4())
		sa = sa4
	} else {
		if ip == nil {
			// Dual-stack wildcard, like net.Listen(":port").
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
				return os.NewSyscallError("setsockopt", err)
			}
		}
		sa6 := &unix.SockaddrInet6{Port: port}
		if ip != nil {
			copy(sa6.Addr[:], ip.To16())
		}
		sa = sa6
	}

	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}
