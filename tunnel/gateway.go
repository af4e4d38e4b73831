package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	ncerr "sockserv/internal/errors"
	"sockserv/internal/retry"
	"sockserv/util"
)

// Gateway is an authenticated SSH client connection to the host that
// accepts connections on sockserv's behalf.
type Gateway struct {
	config  *SSHConfig
	logger  *util.Logger
	backoff *retry.Backoff

	mu     sync.RWMutex
	client *ssh.Client
	done   chan struct{}
}

// NewGateway returns a Gateway that is ready to [Gateway.Connect].
func NewGateway(cfg *SSHConfig, logger *util.Logger) *Gateway {
	return &Gateway{
		config:  cfg.withDefaults(),
		logger:  logger.With("gateway"),
		backoff: retry.DefaultBackoff(),
		done:    make(chan struct{}),
	}
}

// Addr returns the gateway's host:port.
func (g *Gateway) Addr() string { return util.FormatAddr(g.config.Host, g.config.Port) }

// Connect dials the gateway and completes the SSH handshake.  Network
// failures are retried with backoff; authentication and host-key
// failures are returned at once.
func (g *Gateway) Connect(ctx context.Context) error {
	auth, err := BuildAuthMethods(g.config)
	if err != nil {
		return ncerr.WrapSSH("auth", g.config.Host, g.config.Port, err)
	}
	hk, err := hostKeyCallback(g.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", g.config.Host, g.config.Port, err)
	}

	var client *ssh.Client
	err = g.backoff.Do(ctx, func(attempt int) error {
		c, err := g.dial(ctx, auth, hk)
		if err != nil {
			if !retry.IsPermanent(err) {
				g.logger.Warn("attempt %d: %v", attempt, err)
			}
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.client = client
	g.mu.Unlock()
	go g.monitor(client)

	g.logger.Verbose("connected to %s as %s", g.Addr(), g.config.User)
	return nil
}

func (g *Gateway) dial(ctx context.Context, auth []ssh.AuthMethod, hk ssh.HostKeyCallback) (*ssh.Client, error) {
	addr := g.Addr()
	sshCfg := &ssh.ClientConfig{
		User:            g.config.User,
		Auth:            auth,
		HostKeyCallback: hk,
		Timeout:         g.config.ConnTimeout,
		// Public tunnel services print the public URL in the banner.
		BannerCallback: func(message string) error {
			g.logger.Info("%s", strings.TrimRight(message, "\r\n"))
			return nil
		},
	}

	g.logger.Debug("dialing %s as %s", addr, g.config.User)
	dialer := net.Dialer{Timeout: g.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, classifyHandshake(g.config, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// classifyHandshake marks failures that a retry cannot fix as
// permanent.
func classifyHandshake(cfg *SSHConfig, err error) error {
	var keyErr *knownhosts.KeyError
	switch {
	case errors.As(err, &keyErr), strings.Contains(err.Error(), "knownhosts: key"):
		return retry.Permanent(ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port,
			fmt.Errorf("%w: %w", ncerr.ErrHostKeyMismatch, err)))
	case strings.Contains(err.Error(), "unable to authenticate"):
		return retry.Permanent(ncerr.WrapSSH("auth", cfg.Host, cfg.Port,
			fmt.Errorf("%w: %w", ncerr.ErrAuthFailed, err)))
	}
	return ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
}

// Listen asks the gateway to listen on bindAddr:port and returns a
// listener that yields the connections it forwards back.  Port 0 lets
// the gateway choose.
func (g *Gateway) Listen(bindAddr string, port int) (net.Listener, error) {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("gateway %s is not connected", g.Addr())
	}

	ln, err := listenRemoteForward(client, bindAddr, port)
	if err != nil {
		return nil, ncerr.WrapSSH("tcpip-forward", g.config.Host, g.config.Port, err)
	}
	g.logger.Info("listening on %s:%d via %s", displayBind(bindAddr), ln.Addr().(*net.TCPAddr).Port, g.config.Host)
	return ln, nil
}

// KeepAlive sends a keepalive request every interval until ctx is done.
// A failed request closes the connection, which in turn closes every
// listener obtained from [Gateway.Listen].
func (g *Gateway) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.RLock()
			client := g.client
			g.mu.RUnlock()
			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				g.logger.Error("keepalive failed: %v", err)
				client.Close()
				return
			}
			g.logger.Debug("keepalive OK")
		}
	}
}

// Done is closed once the SSH connection has ended.
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Close shuts down the SSH connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

// monitor blocks until the SSH connection closes and signals Done.
func (g *Gateway) monitor(client *ssh.Client) {
	err := client.Wait()
	if err != nil && !util.IsHarmless(err) {
		g.logger.Debug("connection closed: %v", err)
	} else {
		g.logger.Debug("connection closed")
	}
	close(g.done)
}

func displayBind(addr string) string {
	if addr == "" {
		return "*"
	}
	return addr
}
