package capability

import (
	"context"

	ncerr "sockserv/internal/errors"
	"sockserv/internal/protocol"
	"sockserv/internal/session"
	"sockserv/util"
)

// Command is the command-server dispatcher.  It greets the client,
// then answers one single-byte command per read until the client sends
// Q or the connection goes away.
//
// Send failures are logged and the loop carries on.  A read error or
// EOF ends the session.
type Command struct {
	// PadGreeting zero-fills the greeting to the session buffer size,
	// matching what fixed-buffer clients expect.
	PadGreeting bool
}

// Handle runs the session loop.  ctx is not consulted: a session runs
// until its own termination condition.
func (c *Command) Handle(_ context.Context, sess *session.Session) error {
	pad := 0
	if c.PadGreeting {
		pad = len(sess.Buf())
	}
	if _, err := sess.Send(protocol.GreetingBytes(pad)); err != nil {
		sess.Logger.Error("could not send greeting: %v", err)
	}

	for {
		n, err := sess.Read()
		if n > 0 {
			cmd := protocol.Parse(sess.Buf()[:n])
			sess.Metrics.CommandReceived(cmd)
			sess.Logger.Debug("command %q -> %s", sess.Buf()[0], cmd)

			if _, werr := sess.Send(cmd.Response()); werr != nil {
				sess.Logger.Error("could not send %s response: %v", cmd, werr)
			}
			if cmd.Terminates() {
				sess.Logger.Verbose("%s quit", sess.Peer)
				return nil
			}
		}

		if err != nil {
			return readEnd(sess, err)
		}
	}
}

// readEnd maps a read error to the session's exit value.  A peer
// hanging up is a clean exit.
func readEnd(sess *session.Session, err error) error {
	switch {
	case util.IsHarmless(err):
		sess.Logger.Verbose("%s closed the connection", sess.Peer)
		return nil
	case util.IsTimeout(err):
		return ncerr.Wrap("read", sess.Peer, ncerr.ErrTimeout)
	default:
		return ncerr.Wrap("read", sess.Peer, err)
	}
}
