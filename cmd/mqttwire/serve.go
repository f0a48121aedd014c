package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bromq-dev/mqttwire/pkg/admin"
	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/hooks"
	"github.com/bromq-dev/mqttwire/pkg/inspect"
	"github.com/bromq-dev/mqttwire/pkg/journal"
	"github.com/bromq-dev/mqttwire/pkg/listeners"
)

func serveCmd() *cobra.Command {
	var cfgFile string
	opts := newOptions()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CONNECT/CONNACK front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			vp, err := newViper(cfgFile)
			if err != nil {
				return errors.Wrap(err, "read config")
			}
			bindFlags(vp, cmd.Flags())
			opts.configureWithViper(vp)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.Flags().String("log-level", opts.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", opts.LogFormat, "log format (text or json)")
	opts.addFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, opts *options) error {
	log := newLogger(opts.LogLevel, opts.LogFormat)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := handshake.DefaultConfig()
	cfg.ConnectTimeout = opts.ConnectTimeout
	cfg.WriteTimeout = opts.WriteTimeout
	cfg.MaxConnections = opts.MaxConnections
	cfg.MaxPacketSize = opts.MaxPacketSize
	cfg.Registerer = registry
	cfg.Logger = log
	server := handshake.New(cfg)

	// Journal
	var j journal.Journal
	if opts.RedisAddr != "" {
		rj := journal.NewRedis(&journal.RedisConfig{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.RedisKeyPrefix,
			Capacity:  opts.JournalCapacity,
			Logger:    log,
		})
		if err := rj.Start(ctx); err != nil {
			return err
		}
		defer rj.Close()
		j = rj
	} else {
		j = journal.NewMemory(opts.JournalCapacity)
	}

	// Hooks
	if opts.RateLimit > 0 {
		rl := hooks.NewRateLimitHook(hooks.RateLimitConfig{Rate: opts.RateLimit})
		defer rl.Stop()
		server.AddHook(rl)
	}
	if opts.policyEnabled() {
		server.AddHook(hooks.NewPolicyHook(hooks.PolicyConfig{
			RequireCredentials:  opts.RequireCredentials,
			DenyWill:            opts.DenyWill,
			MaxKeepAlive:        opts.MaxKeepAlive,
			RequireCleanSession: opts.RequireCleanSession,
		}))
	}
	server.AddHook(hooks.NewLoggerHook(hooks.LoggerConfig{Logger: log}))
	server.AddHook(hooks.NewJournalHook(hooks.JournalConfig{Journal: j, Logger: log}))

	stats := hooks.NewStatsHook(hooks.StatsConfig{
		Interval: opts.StatsInterval,
		Reporter: func(s hooks.Stats) {
			log.Info("stats",
				"uptime", s.Uptime.Round(time.Second),
				"connected", s.ClientsConnected,
				"accepted", s.HandshakeAccepted,
				"rejected", s.HandshakeRejected,
				"failed", s.HandshakeFailed,
			)
		},
	})
	server.AddHook(stats)
	if opts.StatsInterval > 0 {
		stats.Start()
		defer stats.Stop()
	}

	// Listeners
	lns, err := buildListeners(opts, log)
	if err != nil {
		return err
	}
	errCh := make(chan error, len(lns))
	for _, l := range lns {
		go func(l listeners.Listener) {
			if err := l.Serve(server); err != nil {
				errCh <- errors.Wrapf(err, "listener %s", l.ID())
			}
		}(l)
	}

	// Inspector
	if opts.InspectAddr != "" {
		insp := inspect.NewServer(&inspect.ServerConfig{
			ListenAddr:   opts.InspectAddr,
			MaxFrameSize: opts.MaxPacketSize,
			Logger:       log,
		})
		if err := insp.Start(ctx); err != nil {
			return err
		}
		defer insp.Stop()
	}

	// Admin
	if opts.AdminAddr != "" {
		adm := admin.New(&admin.Config{
			Addr:     opts.AdminAddr,
			Gatherer: registry,
			Journal:  j,
			Stats: func() any {
				return map[string]any{
					"server": server.Stats(),
					"hooks":  stats.Snapshot(),
				}
			},
			Logger: log,
		})
		if err := adm.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adm.Shutdown(shutdownCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("listener failed", "error", runErr)
	}

	for _, l := range lns {
		l.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}

	log.Info("stopped")
	return runErr
}

func buildListeners(opts *options, log *slog.Logger) ([]listeners.Listener, error) {
	var lns []listeners.Listener

	if opts.Addr != "" {
		lns = append(lns, listeners.NewTCP("tcp", opts.Addr, &listeners.TCPConfig{Logger: log}))
	}
	if opts.WSAddr != "" {
		lns = append(lns, listeners.NewWebSocket("ws", opts.WSAddr, &listeners.WebSocketConfig{
			Path:   opts.WSPath,
			Logger: log,
		}))
	}
	if opts.TLSCert != "" && opts.TLSKey != "" && opts.TLSAddr != "" {
		cert, err := tls.LoadX509KeyPair(opts.TLSCert, opts.TLSKey)
		if err != nil {
			return nil, errors.Wrap(err, "load TLS certificate")
		}
		lns = append(lns, listeners.NewTCP("tcp+tls", opts.TLSAddr, &listeners.TCPConfig{
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
			Logger: log,
		}))
	}

	if len(lns) == 0 {
		return nil, errors.New("no listeners configured")
	}
	return lns, nil
}
