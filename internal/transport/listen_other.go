//go:build !linux

package transport

import (
	"net"
	"strconv"
)

// listenStream falls back to net.Listen; the backlog is left to the
// platform.
func listenStream(ip net.IP, port, _ int) (net.Listener, error) {
	host := ""
	if ip != nil {
		host = ip.String()
	}
	return net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
