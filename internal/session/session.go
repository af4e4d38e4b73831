// Package session represents a single accepted connection: the stream,
// the peer identity used in logs, and the session-owned I/O buffer.
//
// A Session belongs to exactly one worker.  Capabilities operate on a
// Session rather than a raw net.Conn so they can be tested over
// net.Pipe and share the same logging and byte accounting.
package session

import (
	"net"
	"time"

	ncerr "sockserv/internal/errors"
	"sockserv/internal/metrics"
	"sockserv/util"
)

// Session encapsulates the runtime context for one connection.
type Session struct {
	ID      uint64
	Conn    net.Conn
	Peer    string // textual peer identity, logging only
	Logger  *util.Logger
	Metrics *metrics.Collector

	// IdleTimeout bounds each read.  Zero waits forever.
	IdleTimeout time.Duration

	buf *[]byte
}

// New creates a Session bound to conn with a fresh buffer from the
// pool.  The caller must [Session.Release] it.
func New(id uint64, conn net.Conn, peer string, logger *util.Logger, m *metrics.Collector) *Session {
	if peer == "" {
		peer = conn.RemoteAddr().String()
	}
	return &Session{
		ID:      id,
		Conn:    conn,
		Peer:    peer,
		Logger:  logger,
		Metrics: m,
		buf:     util.GetBuf(),
	}
}

// Buf returns the session-owned read buffer.
func (s *Session) Buf() []byte { return *s.buf }

// Read reads one chunk (at most len(Buf())) from the peer into Buf.
func (s *Session) Read() (int, error) {
	if s.buf == nil {
		return 0, ncerr.ErrSessionClosed
	}
	if s.IdleTimeout > 0 {
		s.Conn.SetReadDeadline(time.Now().Add(s.IdleTimeout)) //nolint:errcheck
	}
	n, err := s.Conn.Read(*s.buf)
	if n > 0 {
		s.Metrics.BytesReceived(int64(n))
		s.Logger.Verbose("received %d bytes from %s", n, s.Peer)
	}
	return n, err
}

// Send writes p in full and logs the outcome.  Send failures are
// returned but are never fatal to the caller's loop by themselves.
func (s *Session) Send(p []byte) (int, error) {
	n, err := util.WriteAll(s.Conn, p)
	if n > 0 {
		s.Metrics.BytesSent(int64(n))
	}
	if err != nil {
		s.Metrics.RecordError("write " + s.Peer + ": " + err.Error())
		return n, ncerr.Wrap("write", s.Peer, err)
	}
	s.Logger.Verbose("sent %d bytes to %s", n, s.Peer)
	return n, nil
}

// Release returns the buffer to the pool.  The session must not be
// used afterwards.
func (s *Session) Release() {
	util.PutBuf(s.buf)
	s.buf = nil
}
