// Package core is the orchestration layer.  It composes transports
// and capabilities into complete operational modes and provides a
// builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  core  →  cmd (CLI)
//
// Every TCP mode funnels its listener into the same [Acceptor], so a
// connection arriving on a local socket and one forwarded by an SSH
// gateway are served identically.
package core

import "context"

// Mode represents a complete operational mode of sockserv (serve,
// UDP echo, or serve through a gateway).  Each mode owns its listener
// from creation to close.
type Mode interface {
	Run(ctx context.Context) error
}
