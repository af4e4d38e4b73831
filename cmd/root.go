// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"sockserv/config"
	"sockserv/internal/core"
	"sockserv/internal/metrics"
	"sockserv/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sockserv/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected server mode until ctx is
// cancelled.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("sockserv", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	mode := string(cfg.Mode)
	fs.StringVarP(&mode, "mode", "m", mode, "Server mode: command, echo or udp-echo")
	fs.StringVarP(&cfg.BindHost, "bind", "b", cfg.BindHost, "Local address to bind (default: all interfaces)")
	fs.BoolVar(&cfg.IPv4Only, "ipv4", cfg.IPv4Only, "Bind a literal IPv4 address, no name resolution")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Pending connection queue depth")

	// ── sessions ─────────────────────────────────────────────────
	fs.BoolVar(&cfg.PadGreeting, "pad-greeting", cfg.PadGreeting, "Zero-pad the greeting to the 512-byte buffer")
	idleSec := int(cfg.IdleTimeout / time.Second)
	fs.IntVar(&idleSec, "idle-timeout", idleSec, "Close sessions idle for this many seconds (0 = never)")
	fs.BoolVarP(&cfg.ResolvePeers, "resolve", "r", cfg.ResolvePeers, "Reverse-resolve peer names in session logs")

	// ── reverse ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.ReverseSpec, "reverse", "R", cfg.ReverseSpec, "Serve from [user@]gateway[:port]; PORT is then the gateway port")
	fs.StringVar(&cfg.RemoteBindAddress, "remote-bind", cfg.RemoteBindAddress, "Address to bind on the gateway")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var vcount int
	fs.CountVarP(&vcount, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("sockserv %s\n", version)
		return nil
	}

	// ── positional argument ──────────────────────────────────────
	if fs.NArg() != 1 {
		printUsage(fs)
		return fmt.Errorf("expected exactly one port argument, got %d", fs.NArg())
	}
	port, err := config.ParsePort(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg.Port = port

	if cfg.Mode, err = config.ParseMode(mode); err != nil {
		return err
	}
	cfg.IdleTimeout = time.Duration(idleSec) * time.Second
	cfg.Verbose += vcount

	// ── gateway spec ─────────────────────────────────────────────
	if cfg.ReverseSpec != "" {
		user, host, gwPort, err := config.ParseGatewaySpec(cfg.ReverseSpec)
		if err != nil {
			return fmt.Errorf("reverse: %w", err)
		}
		if user == "" {
			user = currentUser()
		}
		cfg.ReverseEnabled = true
		cfg.ReverseUser = user
		cfg.ReverseHost = host
		cfg.ReversePort = gwPort
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build ────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.Verbose >= 3 || !term.IsTerminal(int(os.Stderr.Fd())) {
		logger.SetTimestamps(true)
	}

	m, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}

	if cfg.DryRun {
		printPlan(cfg)
		return nil
	}
	return m.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func currentUser() string {
	for _, k := range []string{"USER", "LOGNAME"} {
		if u := os.Getenv(k); u != "" {
			return u
		}
	}
	return "root"
}

func printPlan(cfg *config.Config) {
	if cfg.ReverseEnabled {
		fmt.Printf("sockserv: would serve %s on %s:%d via %s@%s:%d\n",
			cfg.Mode, orAny(cfg.RemoteBindAddress), cfg.Port,
			cfg.ReverseUser, cfg.ReverseHost, cfg.ReversePort)
		return
	}
	fmt.Printf("sockserv: would serve %s on %s (backlog %d)\n",
		cfg.Mode, util.FormatAddr(orAny(cfg.BindHost), cfg.Port), cfg.Backlog)
}

func orAny(host string) string {
	if host == "" {
		return "*"
	}
	return host
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sockserv – Command Server v%s

Usage: sockserv [options] port

Serves the H(elp) / C(ommand) / Q(uit) protocol on TCP port, one
worker per connection.

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  sockserv 7000                               Command server on 7000
  sockserv -m echo -b 127.0.0.1 7000          TCP echo on loopback
  sockserv -m udp-echo --ipv4 7000            UDP echo, IPv4 only
  sockserv -R admin@gateway 7000              Serve on gateway:7000
`)
}
