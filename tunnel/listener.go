package tunnel

// Go's ssh.Client.Listen keys forwarded-tcpip channels on the exact
// bind address it sent.  Public tunnel services often echo back a
// different one ("0.0.0.0" for ""), and the library then rejects every
// channel with "no forward for address".  remoteListener registers its
// own forwarded-tcpip handler, sends tcpip-forward itself, and accepts
// every channel.

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "sockserv/internal/errors"
)

// ── Wire format (RFC 4254) ───────────────────────────────────────────

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// channelForwardReply carries the allocated port when 0 was requested.
type channelForwardReply struct {
	Port uint32
}

// forwardedTCPPayload is the channel-open payload of "forwarded-tcpip"
// (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// errRemoteClosed is returned by Accept once the listener or the SSH
// connection under it is gone.  It matches net.ErrClosed so accept
// loops stop instead of retrying.
var errRemoteClosed = fmt.Errorf("%w: %w", ncerr.ErrListenerClosed, net.ErrClosed)

// ── remoteListener ───────────────────────────────────────────────────

// remoteListener implements [net.Listener] over forwarded-tcpip
// channels.
type remoteListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// Accept waits for the next forwarded connection.
func (l *remoteListener) Accept() (net.Conn, error) {
	for {
		select {
		case <-l.done:
			return nil, errRemoteClosed
		case newCh, ok := <-l.incoming:
			if !ok {
				return nil, errRemoteClosed
			}
			ch, reqs, err := newCh.Accept()
			if err != nil {
				// The gateway gave up on this one; wait for the next.
				continue
			}
			go ssh.DiscardRequests(reqs)

			var raddr net.Addr = &net.TCPAddr{}
			var payload forwardedTCPPayload
			if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
				raddr = &net.TCPAddr{
					IP:   net.ParseIP(payload.OriginAddr),
					Port: int(payload.OriginPort),
				}
			}
			return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
		}
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *remoteListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		// Best effort; the connection may already be gone.
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr returns the address the gateway listens on.
func (l *remoteListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an [ssh.Channel] to satisfy [net.Conn].  Channels have
// no deadlines, so the deadline setters are no-ops.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }

// ── Constructor ──────────────────────────────────────────────────────

// listenRemoteForward sends tcpip-forward and returns a listener fed by
// the resulting forwarded-tcpip channels.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	// Register before anything else can claim the channel type.
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ncerr.ErrForwardDenied
	}

	port := uint32(bindPort)
	if port == 0 {
		var r channelForwardReply
		if err := ssh.Unmarshal(reply, &r); err == nil {
			port = r.Port
		}
	}

	return &remoteListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}
