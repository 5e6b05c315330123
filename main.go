package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/gatehouse/internal/access"
	"github.com/die-net/gatehouse/internal/auth"
	"github.com/die-net/gatehouse/internal/config"
	"github.com/die-net/gatehouse/internal/control"
	"github.com/die-net/gatehouse/internal/dialer"
	"github.com/die-net/gatehouse/internal/logging"
	"github.com/die-net/gatehouse/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Path to TOML config file. Empty searches ./gatehouse.toml, ~/.config/gatehouse/config.toml, /etc/gatehouse/config.toml")

		httpListen    = pflag.String("http-listen", "", "HTTP proxy listen address (e.g. 127.0.0.1:8080). Empty disables.")
		socksListen   = pflag.String("socks5-listen", "", "SOCKS5 proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")
		controlListen = pflag.String("control-listen", "", "Control API listen address exposing /healthz, /cache and /debug/pprof (e.g. 127.0.0.1:8081). Empty disables.")

		upstreamTimeout    = pflag.Duration("upstream-timeout", proxy.DefaultUpstreamTimeout, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", proxy.DefaultNegotiationTimeout, "Timeout for reading the request head or SOCKS5 handshake")
		cacheTTL           = pflag.Duration("cache-ttl", 360*time.Second, "Lifetime of cached responses")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		reusePort          = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on proxy listeners")
		blacklist          = pflag.StringSlice("blacklist", nil, "Destination hosts to refuse; *.example.com matches subdomains")

		logLevel  = pflag.String("log-level", "", "Log level: trace|debug|info|warn|error")
		logFormat = pflag.String("log-format", "", "Log format: console|json")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	fc, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlags(map[string]func(){
		"http-listen":         func() { fc.Server.Listen = *httpListen },
		"socks5-listen":       func() { fc.Server.SOCKS5Listen = *socksListen },
		"control-listen":      func() { fc.Server.ControlListen = *controlListen },
		"upstream-timeout":    func() { fc.Server.UpstreamTimeout = upstreamTimeout.String() },
		"negotiation-timeout": func() { fc.Server.NegotiationTimeout = negotiationTimeout.String() },
		"cache-ttl":           func() { fc.Cache.TTL = cacheTTL.String() },
		"tcp-keepalive":       func() { fc.Server.TCPKeepAlive = *tcpKeepAlive },
		"reuse-port":          func() { fc.Server.ReusePort = *reusePort },
		"blacklist":           func() { fc.Access.Blacklist = *blacklist },
		"log-level":           func() { fc.Logging.Level = *logLevel },
		"log-format":          func() { fc.Logging.Format = *logFormat },
	})

	logger, err := logging.New(fc.Logging.Level, fc.Logging.Format, os.Stderr)
	if err != nil {
		return err
	}
	log.Logger = logger
	if fc.LoadedPath != "" {
		logger.Info().Str("path", fc.LoadedPath).Msg("loaded config")
	}

	ka, err := parseTCPKeepAlive(fc.Server.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid tcp keepalive: %w", err)
	}

	if fc.Server.Listen == "" && fc.Server.SOCKS5Listen == "" {
		return errors.New("no listeners enabled (set at least one of --http-listen, --socks5-listen)")
	}
	if fc.Server.ReusePort && !proxy.ReusePortSupported {
		return errors.New("SO_REUSEPORT is not supported on this platform")
	}

	bl := access.NewBlacklist(fc.Access.Blacklist)
	users := auth.Users(fc.Access.Users)
	if len(users) == 0 {
		logger.Warn().Msg("no users configured; any Basic credentials are accepted")
	}

	cfg := proxy.Config{
		Authenticate:       users.Authenticate,
		IsBlacklisted:      bl.Contains,
		UpstreamTimeout:    fc.Server.GetUpstreamTimeout(),
		CacheTTL:           fc.Cache.GetTTL(),
		NegotiationTimeout: fc.Server.GetNegotiationTimeout(),
		MaxCacheEntryBytes: fc.Cache.MaxEntryBytes,
		KeepAlive:          ka,
		Logger:             &logger,
	}
	cfg.Dialer = dialer.NewDirectDialer(dialer.Config{
		DialTimeout: cfg.UpstreamTimeout,
		KeepAlive:   ka,
	})

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenOpts := proxy.ListenOptions{KeepAlive: ka, ReusePort: fc.Server.ReusePort}

	// The HTTP proxy owns the cache; the control API needs it even when only
	// SOCKS5 is listening.
	srv := proxy.NewServer(ctx, cfg)

	if fc.Server.Listen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", fc.Server.Listen, listenOpts)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, proxy.ErrServerClosed) {
				return fmt.Errorf("http proxy serve: %w", err)
			}
			return nil
		})
	}

	if fc.Server.SOCKS5Listen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", fc.Server.SOCKS5Listen, listenOpts)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		s5 := proxy.NewSOCKS5Server(ctx, cfg)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := s5.Serve(ln); err != nil && !errors.Is(err, proxy.ErrServerClosed) {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
	}

	if fc.Server.ControlListen != "" {
		api := control.New(srv.Cache(), logger)
		controlSrv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: cfg.NegotiationTimeout}
		lc := net.ListenConfig{KeepAliveConfig: ka}
		controlLn, err := lc.Listen(ctx, "tcp", fc.Server.ControlListen)
		if err != nil {
			return fmt.Errorf("control listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = controlSrv.Close()
		})

		g.Go(func() error {
			if err := controlSrv.Serve(controlLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", controlLn.Addr().String()).Msg("control API listening")
	}

	err = g.Wait()

	logger.Info().Msg("shutting down")
	return err
}

// applyFlags runs the setter for every flag given on the command line, so
// explicit flags override the config file.
func applyFlags(setters map[string]func()) {
	pflag.Visit(func(f *pflag.Flag) {
		if set, ok := setters[f.Name]; ok {
			set()
		}
	})
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
