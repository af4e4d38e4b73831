package core

import (
	"context"
	"fmt"
	"time"

	"sockserv/tunnel"
	"sockserv/util"
)

// ReverseServeMode serves the same protocol from a port on a remote
// SSH gateway, the equivalent of pairing the server with `ssh -R`.
type ReverseServeMode struct {
	Gateway           *tunnel.Gateway
	RemoteBindAddress string
	RemotePort        int
	KeepAlive         time.Duration
	Acceptor          *Acceptor
	DrainTimeout      time.Duration
	Logger            *util.Logger
}

// Run connects to the gateway, asks it to listen, and serves forwarded
// connections until ctx is cancelled or the gateway goes away.
func (m *ReverseServeMode) Run(ctx context.Context) error {
	m.Logger.Verbose("connecting to gateway %s for remote port %d", m.Gateway.Addr(), m.RemotePort)

	if err := m.Gateway.Connect(ctx); err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	defer m.Gateway.Close()

	ln, err := m.Gateway.Listen(m.RemoteBindAddress, m.RemotePort)
	if err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	defer ln.Close()

	kaCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.Gateway.KeepAlive(kaCtx, m.KeepAlive)

	m.Logger.Info("Waiting to accept connections ...")

	err = m.Acceptor.Run(ctx, ln)
	lost := ctx.Err() == nil
	drain(m.Acceptor, m.DrainTimeout, m.Logger)
	if err != nil {
		return err
	}
	if lost {
		return fmt.Errorf("reverse: gateway %s closed the connection", m.Gateway.Addr())
	}
	return nil
}
