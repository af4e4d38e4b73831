// Package config defines the runtime configuration for sockserv and
// the parsers for its positional port and SSH gateway spec.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "sockserv/internal/errors"
)

// Mode selects what the server speaks.
type Mode string

const (
	ModeCommand Mode = "command"  // H/C/Q command server
	ModeEcho    Mode = "echo"     // TCP chunk echo
	ModeUDPEcho Mode = "udp-echo" // UDP datagram echo
)

// Modes lists every valid Mode, in the order shown in --help.
var Modes = []Mode{ModeCommand, ModeEcho, ModeUDPEcho} //nolint:gochecknoglobals

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", &ncerr.ConfigError{
		Field:   "mode",
		Value:   s,
		Message: "unknown mode",
		Hint:    fmt.Sprintf("use one of %v", Modes),
	}
}

// Config holds every tuneable for one sockserv process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Port     int    // positional argument
	BindHost string // "" = every interface
	IPv4Only bool
	Backlog  int
	Mode     Mode

	// ── Sessions ─────────────────────────────────────────────────────
	PadGreeting  bool
	IdleTimeout  time.Duration // 0 = wait forever
	ResolvePeers bool          // reverse-DNS peer names in logs

	// ── Reverse (serve on an SSH gateway) ────────────────────────────
	ReverseSpec       string // raw [user@]host[:port] from -R
	ReverseEnabled    bool
	ReverseUser       string
	ReverseHost       string
	ReversePort       int
	RemoteBindAddress string
	SSHKeyPath        string
	SSHPassword       bool // true → prompt interactively
	UseSSHAgent       bool
	StrictHostKey     bool
	KnownHostsPath    string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Backlog: DefaultBacklog,
		Mode:    ModeCommand,
		Verbose: DefaultVerbosity,
	}
}

// ── Port parser ──────────────────────────────────────────────────────

// ParsePort accepts a decimal port number in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(spec)
	if err != nil {
		return 0, &ncerr.ConfigError{Field: "port", Value: spec, Message: "not a decimal port number"}
	}
	if port < 1 || port > 65535 {
		return 0, &ncerr.ConfigError{
			Field:   "port",
			Value:   port,
			Message: "out of range 1-65535",
			Hint:    "use a port between 1 and 65535",
		}
	}
	return port, nil
}

// ── Gateway-spec parser ──────────────────────────────────────────────

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseGatewaySpec extracts user, host, and port from a string such as
// "admin@gw.example.com:2222".  Port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Backlog < 1 {
		return &ncerr.ConfigError{Field: "backlog", Value: c.Backlog, Message: "must be positive"}
	}
	if c.IdleTimeout < 0 {
		return &ncerr.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must not be negative"}
	}
	if c.PadGreeting && c.Mode != ModeCommand {
		return &ncerr.ConfigError{Field: "pad-greeting", Message: "only applies to --mode=command"}
	}

	if c.ReverseEnabled {
		if c.ReverseHost == "" {
			return &ncerr.ConfigError{Field: "reverse", Value: c.ReverseSpec, Message: "gateway host is required"}
		}
		if c.Mode == ModeUDPEcho {
			return &ncerr.ConfigError{
				Field:   "reverse",
				Message: "UDP cannot be served through an SSH gateway",
				Hint:    "use --mode=command or --mode=echo",
			}
		}
		if c.BindHost != "" || c.IPv4Only {
			return &ncerr.ConfigError{
				Field:   "bind",
				Value:   c.BindHost,
				Message: "local bind options do not apply with --reverse",
				Hint:    "use --remote-bind to choose the gateway-side address",
			}
		}
	}
	return nil
}

// BufSize is the fixed per-session chunk size.
func (c *Config) BufSize() int { return DefaultBufSize }
