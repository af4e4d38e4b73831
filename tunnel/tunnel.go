// Package tunnel serves sockserv from a remote SSH gateway, the Go
// equivalent of `ssh -R`.  The gateway listens on the public side and
// hands each inbound connection back over a forwarded-tcpip channel;
// [Gateway.Listen] exposes those channels as an ordinary net.Listener
// so the regular accept loop can serve them.
package tunnel

import "time"

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// AllowKeyboardInteractive adds keyboard-interactive with empty
	// answers as a last-resort method.  Public tunnel services
	// authenticate that way.
	AllowKeyboardInteractive bool
}

func (c *SSHConfig) withDefaults() *SSHConfig {
	out := *c
	if out.Port == 0 {
		out.Port = 22
	}
	if out.ConnTimeout == 0 {
		out.ConnTimeout = 30 * time.Second
	}
	return &out
}
