// Package capability defines what happens over an accepted
// connection.  Each Capability encapsulates one behaviour (the command
// dispatcher, chunk echo) and operates on a Session rather than a raw
// net.Conn, which keeps capabilities testable over net.Pipe.
package capability

import (
	"context"

	"sockserv/internal/session"
)

// Capability serves a single connection.
type Capability interface {
	// Handle runs the capability against the given session and
	// returns when the session terminates.  The connection itself is
	// closed by the caller.
	Handle(ctx context.Context, sess *session.Session) error
}
