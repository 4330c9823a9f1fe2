// Command utdns is a DNS transport translator: it accepts DNS queries
// over UDP and relays each one to a single upstream recursive resolver
// over TCP, using the DNS-over-TCP framing from RFC 1035 section 4.2.2.
//
// Startup follows a cliFlags struct, a parseFlags/applyCLIOverrides
// split, signal.NotifyContext for graceful shutdown, and a uuid-tagged
// startup log line.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rahra/utdns/internal/admin"
	"github.com/rahra/utdns/internal/config"
	"github.com/rahra/utdns/internal/dispatch"
	"github.com/rahra/utdns/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values. The core translator
// flags (-4 -b -d -p) are joined by a small set of ambient-only flags
// (config/admin-addr/max-trx/timeout) that exist only because a real
// deployable binary needs them.
type cliFlags struct {
	ipv4Only   bool
	background bool
	debug      bool
	port       int
	upstream   string

	configPath string
	adminAddr  string
	maxTrx     int
	timeout    int
}

func parseFlags() (cliFlags, error) {
	var f cliFlags
	flag.BoolVar(&f.ipv4Only, "4", false, "bind the UDP listener to IPv4 only (default: dual-stack)")
	flag.BoolVar(&f.background, "b", false, "daemonize: switch logging to syslog instead of stderr")
	flag.BoolVar(&f.debug, "d", false, "raise log level to DEBUG")
	flag.IntVar(&f.port, "p", 0, "UDP listener port (default 53)")
	flag.StringVar(&f.configPath, "config", "", "path to an optional YAML config file")
	flag.StringVar(&f.adminAddr, "admin-addr", "", "bind address for the admin/observability HTTP surface (empty disables it)")
	flag.IntVar(&f.maxTrx, "max-trx", 0, "transaction table capacity (default 512)")
	flag.IntVar(&f.timeout, "timeout", 0, "per-transaction stale timeout in seconds (default 10)")
	flag.Parse()

	if flag.NArg() != 1 {
		return f, fmt.Errorf("%w: expected exactly one positional argument <upstream-ip>", dispatch.ErrConfigInvalid)
	}
	f.upstream = flag.Arg(0)
	return f, nil
}

// applyCLIOverrides applies command-line overrides on top of the
// file/env-loaded config; only flags explicitly set on the command
// line take precedence over the config file or defaults.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.ipv4Only {
		cfg.Listen.IPv4Only = true
	}
	if f.port != 0 {
		cfg.Listen.Port = f.port
	}
	if f.upstream != "" {
		cfg.Upstream.Address = f.upstream
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if f.background {
		cfg.Logging.Syslog = true
	}
	if f.maxTrx != 0 {
		cfg.Limits.MaxTrx = f.maxTrx
	}
	if f.timeout != 0 {
		cfg.Limits.TimeoutSeconds = f.timeout
	}
	if f.adminAddr != "" {
		cfg.Admin.Enabled = true
		cfg.Admin.Address = f.adminAddr
	}
}

func run() error {
	flags, err := parseFlags()
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrConfigInvalid, err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Syslog: cfg.Logging.Syslog,
	})

	instanceID := uuid.New().String()[:8]
	upstreamAddr, err := resolveUpstream(cfg.Upstream.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrConfigInvalid, err)
	}

	listenAddr := wildcardListenAddr(cfg.Listen.IPv4Only, cfg.Listen.Port)

	logger.Info("utdns starting",
		"instance", instanceID,
		"listen", listenAddr,
		"upstream", upstreamAddr,
		"max_trx", cfg.Limits.MaxTrx,
		"timeout_seconds", cfg.Limits.TimeoutSeconds,
	)

	d, err := dispatch.New(dispatch.Config{
		ListenAddr: listenAddr,
		Upstream:   upstreamAddr,
		MaxTrx:     cfg.Limits.MaxTrx,
		Timeout:    time.Duration(cfg.Limits.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	if err := dispatch.DropPrivileges(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(cfg.Admin.Address, d.Stats(), logger)
		logger.Info("admin surface starting", "addr", cfg.Admin.Address)
		go func() {
			if err := adminSrv.Run(ctx); err != nil {
				logger.Error("admin surface error", "error", err)
			}
		}()
	}

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("dispatcher exited with error: %w", err)
	}
	logger.Info("utdns stopped")
	return nil
}

func resolveUpstream(address string) (netip.AddrPort, error) {
	if address == "" {
		return netip.AddrPort{}, fmt.Errorf("upstream address is required")
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid upstream IPv4 address %q: %w", address, err)
	}
	return netip.AddrPortFrom(addr, 53), nil
}

func wildcardListenAddr(ipv4Only bool, port int) netip.AddrPort {
	if ipv4Only {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
	}
	return netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(port))
}
