package capability

import (
	"context"

	"sockserv/internal/session"
)

// Echo writes every chunk it reads straight back to the peer.
type Echo struct{}

// Handle echoes until the peer hangs up or a read fails.  A failed
// write is logged and the loop continues.
func (e *Echo) Handle(_ context.Context, sess *session.Session) error {
	for {
		n, err := sess.Read()
		if n > 0 {
			if _, werr := sess.Send(sess.Buf()[:n]); werr != nil {
				sess.Logger.Error("could not echo %d bytes: %v", n, werr)
			}
		}
		if err != nil {
			return readEnd(sess, err)
		}
	}
}
