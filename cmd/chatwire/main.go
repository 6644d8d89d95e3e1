package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatwire/chatwire/pkg/config"
	"github.com/chatwire/chatwire/pkg/gateway"
	webhttp "github.com/chatwire/chatwire/pkg/gateway/http"
	"github.com/chatwire/chatwire/pkg/persistence/msglog"
	"github.com/chatwire/chatwire/pkg/persistence/sessionstore"
	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/webhook"
)

func main() {
	root := &cobra.Command{
		Use:   "chatwire",
		Short: "Multi-session chat gateway relaying inbound messages to webhooks",
	}
	root.AddCommand(newServeCommand())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var (
		configPath  string
		addr        string
		sessionsDir string
		pairWindow  time.Duration
		msgLogDB    string
		logLevel    string
		simAutoPair time.Duration
		redisOn     bool
		redisAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP API and session manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("sessions-dir") {
				cfg.SessionsDir = sessionsDir
			}
			if flags.Changed("pairing-window") {
				cfg.PairingWindow = config.Duration(pairWindow)
			}
			if flags.Changed("msglog-db") {
				cfg.MessageLogDB = msgLogDB
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("sim-autopair") {
				cfg.SimAutoPair = config.Duration(simAutoPair)
			}
			if flags.Changed("redis-enabled") {
				cfg.Redis.Enabled = redisOn
			}
			if flags.Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":3000", "HTTP listen address")
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "./sessions", "directory for persisted session records")
	cmd.Flags().DurationVar(&pairWindow, "pairing-window", gateway.DefaultPairingWindow, "eviction window for unpaired sessions")
	cmd.Flags().StringVar(&msgLogDB, "msglog-db", "", "sqlite file for the inbound message log (disabled when empty)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "zerolog level (trace|debug|info|warn|error)")
	cmd.Flags().DurationVar(&simAutoPair, "sim-autopair", 0, "auto-pair simulated sessions after this delay (0 disables)")
	cmd.Flags().BoolVar(&redisOn, "redis-enabled", false, "use Redis Streams as the event transport")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address host:port")
	return cmd
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sessionstore.NewStore(cfg.SessionsDir)
	if err != nil {
		return err
	}

	var messageLog *msglog.Store
	if cfg.MessageLogDB != "" {
		dsn, err := msglog.DSNForFile(cfg.MessageLogDB)
		if err != nil {
			return err
		}
		messageLog, err = msglog.NewStore(dsn)
		if err != nil {
			return errors.Wrap(err, "open message log")
		}
		defer func() { _ = messageLog.Close() }()
	}

	backend, err := gateway.NewStreamBackend(cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "build stream backend")
	}
	defer func() { _ = backend.Close() }()

	manager, err := gateway.NewManager(gateway.ManagerOptions{
		BaseCtx:       ctx,
		Store:         store,
		Dispatcher:    webhook.NewDispatcher(cfg.WebhookTimeout.Std()),
		Clients:       protocol.NewSimFactory(protocol.SimOptions{AutoPairAfter: cfg.SimAutoPair.Std()}),
		Backend:       backend,
		PairingWindow: cfg.PairingWindow.Std(),
		MessageLog:    messageLog,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.LoadAll(ctx); err != nil {
		return errors.Wrap(err, "reload persisted sessions")
	}

	api, err := webhttp.NewHandler(webhttp.HandlerConfig{
		Service:    manager,
		Streams:    backend,
		MessageLog: messageLog,
	})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	api.Register(mux)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	log.Info().Msg("gateway stopped")
	return err
}
