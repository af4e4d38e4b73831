package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	ncerr "sockserv/internal/errors"
	"sockserv/util"
)

// ── in-process gateway ───────────────────────────────────────────────

// testGateway is a minimal SSH server that grants tcpip-forward and
// lets the test open forwarded-tcpip channels towards the client.
type testGateway struct {
	addr    *net.TCPAddr
	hostKey ssh.Signer
	conns   chan *ssh.ServerConn
	forward chan channelForwardMsg
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	s, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func startTestGateway(t *testing.T, cfg *ssh.ServerConfig) *testGateway {
	t.Helper()

	g := &testGateway{
		hostKey: newSigner(t),
		conns:   make(chan *ssh.ServerConn, 1),
		forward: make(chan channelForwardMsg, 1),
	}
	cfg.AddHostKey(g.hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	g.addr = ln.Addr().(*net.TCPAddr)

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go g.serve(nc, cfg)
		}
	}()
	return g
}

func (g *testGateway) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	g.conns <- sconn

	go func() {
		for ch := range chans {
			ch.Reject(ssh.Prohibited, "no sessions") //nolint:errcheck
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var msg channelForwardMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			if msg.Port == 0 {
				msg.Port = 40000
			}
			req.Reply(true, ssh.Marshal(&channelForwardReply{Port: msg.Port})) //nolint:errcheck
			g.forward <- msg
		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

func (g *testGateway) sshConfig() *SSHConfig {
	return &SSHConfig{
		User:                     "tester",
		Host:                     g.addr.IP.String(),
		Port:                     g.addr.Port,
		ConnTimeout:              2 * time.Second,
		AllowKeyboardInteractive: true,
	}
}

func isolateAuth(t *testing.T) {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("HOME", t.TempDir())
}

// ── tests ────────────────────────────────────────────────────────────

func TestGateway_ListenAcceptsForwardedConnection(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{NoClientAuth: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gw := NewGateway(srv.sshConfig(), util.NewLogger(0))
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer gw.Close()

	ln, err := gw.Listen("", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if got := ln.Addr().(*net.TCPAddr).Port; got != 40000 {
		t.Errorf("allocated port = %d, want 40000", got)
	}

	sconn := <-srv.conns
	fwd := <-srv.forward

	// The gateway opens a channel as if a client had connected.
	go func() {
		payload := forwardedTCPPayload{
			Addr:       fwd.Addr,
			Port:       fwd.Port,
			OriginAddr: "203.0.113.7",
			OriginPort: 5555,
		}
		ch, reqs, err := sconn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		ch.Write([]byte("ping")) //nolint:errcheck
		buf := make([]byte, 4)
		io.ReadFull(ch, buf) //nolint:errcheck
		ch.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer conn.Close()

	if host := util.PeerHost(conn.RemoteAddr()); host != "203.0.113.7" {
		t.Errorf("peer = %q, want 203.0.113.7", host)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Errorf("got %q, want ping", buf)
	}
	if _, err := conn.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
}

func TestGateway_ListenerCloseEndsAccept(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{NoClientAuth: true})

	gw := NewGateway(srv.sshConfig(), util.NewLogger(0))
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer gw.Close()

	ln, err := gw.Listen("127.0.0.1", 7000)
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	ln.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("Accept error = %v, want net.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestGateway_ConnectionLossEndsAccept(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{NoClientAuth: true})

	gw := NewGateway(srv.sshConfig(), util.NewLogger(0))
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer gw.Close()

	ln, err := gw.Listen("", 7000)
	if err != nil {
		t.Fatal(err)
	}
	sconn := <-srv.conns
	sconn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if !util.IsHarmless(err) {
			t.Errorf("Accept error = %v, want a closed-listener error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Accept did not return after the gateway hung up")
	}

	select {
	case <-gw.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after connection loss")
	}
}

func TestGateway_AuthFailureIsPermanent(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, errors.New("denied")
		},
	})

	gw := NewGateway(srv.sshConfig(), util.NewLogger(0))
	start := time.Now()
	err := gw.Connect(context.Background())
	if err == nil {
		gw.Close()
		t.Fatal("expected authentication failure")
	}
	if !errors.Is(err, ncerr.ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("auth failure was retried (took %s)", time.Since(start))
	}
}

func TestGateway_HostKeyMismatch(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{NoClientAuth: true})

	// known_hosts lists a different key for this address.
	other := newSigner(t)
	kh := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr.String())}, other.PublicKey())
	if err := os.WriteFile(kh, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := srv.sshConfig()
	cfg.StrictHostKey = true
	cfg.KnownHosts = kh

	err := NewGateway(cfg, util.NewLogger(0)).Connect(context.Background())
	if !errors.Is(err, ncerr.ErrHostKeyMismatch) {
		t.Fatalf("error = %v, want ErrHostKeyMismatch", err)
	}
}

func TestGateway_KnownHostAccepted(t *testing.T) {
	isolateAuth(t)
	srv := startTestGateway(t, &ssh.ServerConfig{NoClientAuth: true})

	kh := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr.String())}, srv.hostKey.PublicKey())
	if err := os.WriteFile(kh, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := srv.sshConfig()
	cfg.StrictHostKey = true
	cfg.KnownHosts = kh

	gw := NewGateway(cfg, util.NewLogger(0))
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	gw.Close()
}

func TestGateway_ListenBeforeConnect(t *testing.T) {
	gw := NewGateway(&SSHConfig{Host: "gw"}, util.NewLogger(0))
	if _, err := gw.Listen("", 7000); err == nil {
		t.Fatal("Listen without Connect should fail")
	}
}

func TestSSHConfig_Defaults(t *testing.T) {
	cfg := (&SSHConfig{Host: "gw"}).withDefaults()
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.ConnTimeout != 30*time.Second {
		t.Errorf("ConnTimeout = %v, want 30s", cfg.ConnTimeout)
	}
}
