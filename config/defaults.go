package config

import (
	"time"

	"sockserv/util"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultBufSize is the per-session read/write chunk size.
	DefaultBufSize = util.DefaultBufSize

	// DefaultBacklog is the listen queue depth.
	DefaultBacklog = 16

	// DefaultVerbosity prints accept/close lines but not per-command
	// traffic.
	DefaultVerbosity = 1

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the SSH gateway dial and handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultKeepAlive is the interval between keepalive requests to
	// the SSH gateway in reverse mode.
	DefaultKeepAlive = 30 * time.Second

	// DefaultResolveTimeout bounds a reverse-DNS lookup of a peer.
	DefaultResolveTimeout = 2 * time.Second

	// DefaultDrainTimeout is how long a stopping server waits for
	// running sessions before exiting anyway.
	DefaultDrainTimeout = 2 * time.Second
)
