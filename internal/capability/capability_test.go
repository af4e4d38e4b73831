package capability

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	ncerr "sockserv/internal/errors"
	"sockserv/internal/metrics"
	"sockserv/internal/protocol"
	"sockserv/internal/session"
	"sockserv/util"
)

// serve runs capability c against the server end of a net.Pipe and
// returns the client end plus a channel carrying Handle's result.
func serve(t *testing.T, c Capability, conn net.Conn, m *metrics.Collector, tweak func(*session.Session)) <-chan error {
	t.Helper()
	sess := session.New(1, conn, "", util.NewLogger(0), m)
	if tweak != nil {
		tweak(sess)
	}
	done := make(chan error, 1)
	go func() {
		defer conn.Close()
		defer sess.Release()
		done <- c.Handle(context.Background(), sess)
	}()
	return done
}

func pipe(t *testing.T) (server, client net.Conn) {
	t.Helper()
	server, client = net.Pipe()
	t.Cleanup(func() { client.Close() })
	client.SetDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	return server, client
}

func expect(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("reading %q: %v (got %q)", want, err, got)
	}
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func send(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s)); err != nil {
		t.Fatalf("write %q: %v", s, err)
	}
}

func expectEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	var one [1]byte
	if n, err := conn.Read(one[:]); err != io.EOF {
		t.Fatalf("expected EOF, got n=%d err=%v", n, err)
	}
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

// ── Command ──────────────────────────────────────────────────────────

func TestCommand_HelpThenQuit(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Command{}, server, nil, nil)

	expect(t, client, protocol.Greeting)
	send(t, client, "H\n")
	expect(t, client, "Command Server Help.\n\nH(elp):  This help.\nC(ommand):  Print command.\nQ(uit):  Quit.\n\ncommand:  ")
	send(t, client, "Q\n")
	expect(t, client, "Goodbye.\n\n")
	expectEOF(t, client)

	if err := wait(t, done); err != nil {
		t.Errorf("Handle: %v", err)
	}
}

func TestCommand_Responses(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"command", "C\n", "command\n\ncommand:  "},
		{"invalid", "X\n", "Invalid command.\n\ncommand:  "},
		{"lowercase is invalid", "h\n", "Invalid command.\n\ncommand:  "},
		{"bare newline", "\n", "Invalid command.\n\ncommand:  "},
		{"trailing bytes ignored", "Chocolate\r\n", "command\n\ncommand:  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := pipe(t)
			done := serve(t, &Command{}, server, nil, nil)

			expect(t, client, protocol.Greeting)
			send(t, client, tt.in)
			expect(t, client, tt.want)
			send(t, client, "Q")
			expect(t, client, protocol.Goodbye)
			wait(t, done)
		})
	}
}

// TestCommand_Idempotent repeats H and C and expects identical bytes
// every time.
func TestCommand_Idempotent(t *testing.T) {
	server, client := pipe(t)
	m := metrics.New()
	done := serve(t, &Command{}, server, m, nil)

	expect(t, client, protocol.Greeting)
	for i := 0; i < 5; i++ {
		send(t, client, "H\n")
		expect(t, client, protocol.Help)
		send(t, client, "C\n")
		expect(t, client, protocol.Echo)
	}
	send(t, client, "Q\n")
	expect(t, client, protocol.Goodbye)
	wait(t, done)

	if m.Commands(protocol.CmdHelp) != 5 || m.Commands(protocol.CmdCommand) != 5 {
		t.Errorf("command counters = %d/%d, want 5/5",
			m.Commands(protocol.CmdHelp), m.Commands(protocol.CmdCommand))
	}
	if m.Commands(protocol.CmdQuit) != 1 {
		t.Errorf("quit counter = %d", m.Commands(protocol.CmdQuit))
	}
}

// TestCommand_GreetingBeforeInput checks the greeting arrives without
// the client sending anything.
func TestCommand_GreetingBeforeInput(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Command{}, server, nil, nil)

	expect(t, client, protocol.Greeting)
	client.Close()
	wait(t, done)
}

func TestCommand_PaddedGreeting(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Command{PadGreeting: true}, server, nil, nil)

	got := make([]byte, util.DefaultBufSize)
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), protocol.Greeting) {
		t.Errorf("padded greeting = %q", got[:64])
	}
	if got[len(got)-1] != 0 {
		t.Error("padding should be NUL bytes")
	}
	client.Close()
	wait(t, done)
}

// TestCommand_ReadEOFTerminatesSession covers the deliberate choice to
// end the session on EOF instead of looping on a dead socket.
func TestCommand_ReadEOFTerminatesSession(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Command{}, server, nil, nil)

	expect(t, client, protocol.Greeting)
	send(t, client, "C\n")
	expect(t, client, protocol.Echo)
	client.Close()

	if err := wait(t, done); err != nil {
		t.Errorf("EOF should end the session cleanly, got %v", err)
	}
}

func TestCommand_IdleTimeout(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Command{}, server, nil, func(s *session.Session) {
		s.IdleTimeout = 50 * time.Millisecond
	})

	expect(t, client, protocol.Greeting)
	err := wait(t, done)
	if !errors.Is(err, ncerr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

// flakyConn fails the first failWrites writes.
type flakyConn struct {
	net.Conn
	failWrites int
}

func (c *flakyConn) Write(p []byte) (int, error) {
	if c.failWrites > 0 {
		c.failWrites--
		return 0, errors.New("injected write failure")
	}
	return c.Conn.Write(p)
}

// TestCommand_SendFailureNotFatal checks that a failed greeting does
// not end the session.
func TestCommand_SendFailureNotFatal(t *testing.T) {
	server, client := pipe(t)
	m := metrics.New()
	done := serve(t, &Command{}, &flakyConn{Conn: server, failWrites: 1}, m, nil)

	send(t, client, "C\n")
	expect(t, client, protocol.Echo)
	send(t, client, "Q\n")
	expect(t, client, protocol.Goodbye)
	wait(t, done)

	if m.ErrorCount() != 1 {
		t.Errorf("errors = %d, want 1", m.ErrorCount())
	}
}

// ── Echo ─────────────────────────────────────────────────────────────

func TestEcho_RoundTrip(t *testing.T) {
	server, client := pipe(t)
	m := metrics.New()
	done := serve(t, &Echo{}, server, m, nil)

	for _, msg := range []string{"hello\n", "Q\n", strings.Repeat("x", 100)} {
		send(t, client, msg)
		expect(t, client, msg)
	}
	client.Close()

	if err := wait(t, done); err != nil {
		t.Errorf("Handle: %v", err)
	}
	if m.TotalBytesIn() != m.TotalBytesOut() || m.TotalBytesIn() != 108 {
		t.Errorf("bytes in/out = %d/%d, want 108/108", m.TotalBytesIn(), m.TotalBytesOut())
	}
}

func TestEcho_ChunkedAtBufferSize(t *testing.T) {
	server, client := pipe(t)
	done := serve(t, &Echo{}, server, nil, nil)

	big := strings.Repeat("a", util.DefaultBufSize+10)
	go client.Write([]byte(big)) //nolint:errcheck
	expect(t, client, big)
	client.Close()
	wait(t, done)
}
