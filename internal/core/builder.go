package core

import (
	"sockserv/config"
	"sockserv/internal/capability"
	"sockserv/internal/metrics"
	"sockserv/internal/transport"
	"sockserv/internal/worker"
	"sockserv/tunnel"
	"sockserv/util"
)

// Build constructs the Mode selected by cfg.  cfg is expected to have
// passed Validate.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch {
	case cfg.Mode == config.ModeUDPEcho:
		return buildUDPEcho(cfg, logger, m)
	case cfg.ReverseEnabled:
		return buildReverse(cfg, logger, m), nil
	default:
		return buildServe(cfg, logger, m)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	lc, err := listenConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &ServeMode{
		Listen:       lc,
		Acceptor:     buildAcceptor(cfg, logger, m),
		DrainTimeout: config.DefaultDrainTimeout,
		Logger:       logger,
	}, nil
}

func buildUDPEcho(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	lc, err := listenConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &UDPEchoMode{Listen: lc, Logger: logger, Metrics: m}, nil
}

func buildReverse(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	sshCfg := &tunnel.SSHConfig{
		User:                     cfg.ReverseUser,
		Host:                     cfg.ReverseHost,
		Port:                     cfg.ReversePort,
		KeyPath:                  cfg.SSHKeyPath,
		PromptPass:               cfg.SSHPassword,
		UseAgent:                 cfg.UseSSHAgent,
		StrictHostKey:            cfg.StrictHostKey,
		KnownHosts:               cfg.KnownHostsPath,
		ConnTimeout:              config.DefaultConnTimeout,
		AllowKeyboardInteractive: true,
	}

	return &ReverseServeMode{
		Gateway:           tunnel.NewGateway(sshCfg, logger),
		RemoteBindAddress: cfg.RemoteBindAddress,
		RemotePort:        cfg.Port,
		KeepAlive:         config.DefaultKeepAlive,
		Acceptor:          buildAcceptor(cfg, logger, m),
		DrainTimeout:      config.DefaultDrainTimeout,
		Logger:            logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

func listenConfig(cfg *config.Config) (transport.ListenConfig, error) {
	// Reject a bad --ipv4 host now rather than at bind time.
	if _, err := util.ResolveBindHost(cfg.BindHost, cfg.IPv4Only); err != nil {
		return transport.ListenConfig{}, err
	}
	return transport.ListenConfig{
		Host:     cfg.BindHost,
		Port:     cfg.Port,
		Backlog:  cfg.Backlog,
		IPv4Only: cfg.IPv4Only,
	}, nil
}

func buildAcceptor(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *Acceptor {
	return &Acceptor{
		Handler:        buildCapability(cfg),
		Supervisor:     worker.New(logger, nil),
		Logger:         logger,
		Metrics:        m,
		ResolvePeers:   cfg.ResolvePeers,
		ResolveTimeout: config.DefaultResolveTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
}

// buildCapability selects the per-connection behaviour.
func buildCapability(cfg *config.Config) capability.Capability {
	if cfg.Mode == config.ModeEcho {
		return &capability.Echo{}
	}
	return &capability.Command{PadGreeting: cfg.PadGreeting}
}
