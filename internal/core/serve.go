package core

import (
	"context"
	"time"

	"sockserv/internal/transport"
	"sockserv/util"
)

// ServeMode listens on a local TCP port and runs the Acceptor on it
// until ctx is cancelled.
type ServeMode struct {
	Listen       transport.ListenConfig
	Acceptor     *Acceptor
	DrainTimeout time.Duration
	Logger       *util.Logger
}

// Run creates the listener once and serves it.  Bind and listen
// failures (a port already in use, an unresolvable host) are returned
// before anything is accepted.
func (m *ServeMode) Run(ctx context.Context) error {
	ln, err := transport.ListenTCP(ctx, m.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	m.Logger.Verbose("listening on %s (tcp, backlog %d)", ln.Addr(), m.Listen.Backlog)
	m.Logger.Info("Waiting to accept connections ...")

	err = m.Acceptor.Run(ctx, ln)
	drain(m.Acceptor, m.DrainTimeout, m.Logger)
	return err
}

// drain gives running sessions up to timeout to finish on their own,
// then logs the final counters.  Sessions are never interrupted.  The
// supervisor is closed only when no session is left, since Close waits
// for every worker.  The accept loop must have returned.
func drain(a *Acceptor, timeout time.Duration, logger *util.Logger) {
	if n := a.Supervisor.Active(); n > 0 && timeout > 0 {
		logger.Verbose("waiting up to %s for %d session(s)", timeout, n)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.Supervisor.Wait(ctx) //nolint:errcheck
	}
	if n := a.Supervisor.Active(); n > 0 {
		logger.Warn("%d session(s) still open at exit", n)
	} else {
		a.Supervisor.Close()
	}
	logger.Verbose("metrics: %s", a.Metrics.JSON())
}
