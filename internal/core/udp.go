package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"sockserv/internal/metrics"
	"sockserv/internal/transport"
	"sockserv/util"
)

// UDPEchoMode sends every datagram back to its sender from a single
// loop.  There are no sessions and no workers.
type UDPEchoMode struct {
	Listen  transport.ListenConfig
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run binds the socket and echoes until ctx is cancelled.  Receive
// errors are logged and skipped.
func (m *UDPEchoMode) Run(ctx context.Context) error {
	pc, err := transport.ListenUDP(ctx, m.Listen)
	if err != nil {
		return err
	}
	defer pc.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pc.Close()
		case <-done:
		}
	}()

	m.Logger.Verbose("listening on %s (udp)", pc.LocalAddr())

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	// A socket error can repeat on every read; log at most once a second.
	errLog := rate.Sometimes{First: 1, Interval: time.Second}

	for {
		n, addr, err := pc.ReadFrom(*buf)
		if err != nil {
			if util.IsHarmless(err) || ctx.Err() != nil {
				m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
				return nil
			}
			m.Metrics.RecordError(fmt.Sprintf("recvfrom: %v", err))
			errLog.Do(func() { m.Logger.Verbose("recvfrom: %v", err) })
			continue
		}
		m.Metrics.BytesReceived(int64(n))
		m.Logger.Info("Received %d bytes from %s", n, addr)

		w, err := pc.WriteTo((*buf)[:n], addr)
		if w > 0 {
			m.Metrics.BytesSent(int64(w))
		}
		if err != nil || w != n {
			m.Metrics.RecordError(fmt.Sprintf("sendto %s: %v", addr, err))
			errLog.Do(func() { m.Logger.Error("error sending response to %s", addr) })
			continue
		}
		m.Metrics.DatagramEchoed()
	}
}
