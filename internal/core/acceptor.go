package core

import (
	"context"
	"net"
	"time"

	"sockserv/internal/capability"
	ncerr "sockserv/internal/errors"
	"sockserv/internal/metrics"
	"sockserv/internal/retry"
	"sockserv/internal/session"
	"sockserv/internal/worker"
	"sockserv/util"
)

// Acceptor takes connections off a listener and gives each one its own
// worker.  Ownership of the connection passes to the worker at once;
// the accept loop never reads, writes or closes it.
type Acceptor struct {
	Handler    capability.Capability
	Supervisor *worker.Supervisor
	Logger     *util.Logger
	Metrics    *metrics.Collector

	// ResolvePeers looks up the peer's name inside the worker, for
	// session logs only.  The accept loop always logs the numeric form.
	ResolvePeers   bool
	ResolveTimeout time.Duration

	// IdleTimeout bounds every read of a session.  Zero waits forever.
	IdleTimeout time.Duration

	// Backoff paces the loop after failed accepts.  Nil uses
	// retry.AcceptBackoff.
	Backoff *retry.Backoff

	nextID uint64
}

// Run accepts until the listener is closed, either by its owner or
// because ctx was cancelled.  A failed accept is logged and retried
// after a short, growing pause; it never ends the loop.  Running
// workers are left alone when Run returns.
func (a *Acceptor) Run(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	backoff := a.Backoff
	if backoff == nil {
		backoff = retry.AcceptBackoff()
	}

	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if util.IsHarmless(err) || ctx.Err() != nil {
				return nil
			}
			failures++
			a.Metrics.AcceptFailed(err.Error())
			delay := backoff.Delay(failures)
			if ncerr.IsRetryable(err) {
				// EMFILE, ECONNABORTED and the like clear up on their own.
				a.Logger.Warn("accept: %v (retrying in %s)", err, delay)
			} else {
				a.Logger.Error("accept: %v (retrying in %s)", err, delay)
			}
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}

		failures = 0
		a.dispatch(ctx, conn)
	}
}

// dispatch hands conn to a new worker.
func (a *Acceptor) dispatch(ctx context.Context, conn net.Conn) {
	a.nextID++
	id := a.nextID
	host := util.PeerHost(conn.RemoteAddr())

	a.Metrics.ConnectionOpened()
	a.Logger.Info("accepted a connection from %s", host)

	// The session is not tied to the accept loop's lifetime.
	wctx := context.WithoutCancel(ctx)

	a.Supervisor.Go(host, func() error {
		defer a.Metrics.ConnectionClosed()
		defer conn.Close()

		sess := session.New(id, conn, a.peerName(wctx, conn), a.Logger, a.Metrics)
		defer sess.Release()
		sess.IdleTimeout = a.IdleTimeout

		err := a.Handler.Handle(wctx, sess)
		a.Logger.Verbose("connection from %s closed", sess.Peer)
		return err
	})
}

// peerName returns "" (use the numeric address) unless name lookups
// are enabled and succeed.
func (a *Acceptor) peerName(ctx context.Context, conn net.Conn) string {
	if !a.ResolvePeers {
		return ""
	}
	name, err := util.LookupPeer(ctx, conn.RemoteAddr(), a.ResolveTimeout)
	if err != nil {
		a.Logger.Debug("%v", err)
		return ""
	}
	_, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return name
	}
	return net.JoinHostPort(name, port)
}

// sleepCtx sleeps for d and reports whether it did so without ctx
// being cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
