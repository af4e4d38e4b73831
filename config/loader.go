package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SOCKSERV_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it BEFORE flag parsing
// so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SOCKSERV_BIND"); v != "" {
		cfg.BindHost = v
	}
	if envBool("SOCKSERV_IPV4") {
		cfg.IPv4Only = true
	}
	if v := os.Getenv("SOCKSERV_MODE"); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	if v := envInt("SOCKSERV_BACKLOG"); v > 0 {
		cfg.Backlog = v
	}
	if envBool("SOCKSERV_PAD_GREETING") {
		cfg.PadGreeting = true
	}
	if v := envInt("SOCKSERV_IDLE_TIMEOUT"); v > 0 {
		cfg.IdleTimeout = secondsDuration(v)
	}
	if envBool("SOCKSERV_RESOLVE") {
		cfg.ResolvePeers = true
	}

	// Reverse
	if v := os.Getenv("SOCKSERV_REVERSE"); v != "" {
		cfg.ReverseSpec = v
	}
	if v := os.Getenv("SOCKSERV_REMOTE_BIND"); v != "" {
		cfg.RemoteBindAddress = v
	}
	if v := os.Getenv("SOCKSERV_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SOCKSERV_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SOCKSERV_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("SOCKSERV_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("SOCKSERV_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v, ok := envIntSet("SOCKSERV_VERBOSE"); ok {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v, _ := envIntSet(key)
	return v
}

// envIntSet distinguishes "unset or invalid" from an explicit 0.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
