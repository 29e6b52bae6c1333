// Package main runs the action relay service: chat sessions, wallet custody,
// transaction relay and the notification websocket behind one HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-action-relay/internal/api"
	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/config"
	"solana-action-relay/internal/hub"
	"solana-action-relay/internal/keyvault"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/relay"
	"solana-action-relay/internal/session"
	"solana-action-relay/internal/solana"
	"solana-action-relay/internal/wallet"
)

func main() {
	envFile := flag.String("env-file", ".env", "Environment file loaded before parsing")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Solana RPC HTTP endpoint (overrides SOLANA_RPC_ENDPOINT)")
	wsEndpoint := flag.String("ws-endpoint", "", "Solana WebSocket endpoint (overrides SOLANA_WS_ENDPOINT)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (overrides CLICKHOUSE_DSN)")
	redisAddr := flag.String("redis-addr", "", "Redis address for sessions (overrides REDIS_ADDR)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	logLevel := flag.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rpc-endpoint":
			cfg.RPCEndpoint = *rpcEndpoint
		case "ws-endpoint":
			cfg.WSEndpoint = *wsEndpoint
		case "postgres-dsn":
			cfg.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.ClickhouseDSN = *clickhouseDSN
		case "redis-addr":
			cfg.RedisAddr = *redisAddr
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "use-memory":
			cfg.UseMemory = *useMemory
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// run wires the components and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	redacted := cfg.Redacted()
	logger.Info("starting",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("use_memory", cfg.UseMemory),
		zap.String("postgres", redacted.PostgresDSN),
		zap.String("clickhouse", redacted.ClickhouseDSN),
		zap.String("redis", cfg.RedisAddr),
		zap.String("swap_signing", string(cfg.SwapSigning)),
		zap.String("launch_signing", string(cfg.LaunchSigning)),
	)

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	vault, err := keyvault.New(cfg.MasterPassphrase, cfg.VaultSalt)
	if err != nil {
		return fmt.Errorf("key vault: %w", err)
	}

	// The relay owns retries for submissions; reads go through a retrying client.
	ledger := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithMaxRetries(0))
	reader := solana.NewHTTPClient(cfg.RPCEndpoint)

	var watcher *hub.BalanceWatcher
	if cfg.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = logger
		ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsCfg)
		if err != nil {
			return fmt.Errorf("connect solana websocket: %w", err)
		}
		defer ws.Close()
		watcher = hub.NewBalanceWatcher(hub.WatcherOptions{WS: ws, Balances: reader, Logger: logger})
		defer watcher.Close()
	} else {
		logger.Warn("SOLANA_WS_ENDPOINT not set, balance notifications disabled")
	}

	hubOpts := hub.Options{MaxMissedPongs: cfg.HubMaxMissedPongs, Logger: logger}
	if watcher != nil {
		hubOpts.Watcher = watcher
	}
	notifications := hub.New(hubOpts)

	wallets := wallet.New(wallet.Options{
		Store:     st.wallets,
		Vault:     vault,
		Publisher: notifications,
		Logger:    logger,
	})

	b := builder.New(builder.Options{
		Resolver:    builder.NewStaticResolver(builder.NewStoreLookup(st.tokens), reader),
		Quoter:      builder.NewJupiterQuoter(cfg.JupiterEndpoint, builder.WithCollaboratorTimeout(cfg.CollaboratorTimeout)),
		Minter:      newMinter(cfg),
		Uploader:    newUploader(cfg),
		SlippageBps: cfg.SlippageBps,
		Logger:      logger,
	})

	sessions := session.NewManager(session.Options{
		Store:       st.sessions,
		Builder:     b,
		IdleTimeout: cfg.SessionIdleTimeout,
		Locker:      st.sessionLock,
		Logger:      logger,
	})

	submitter := relay.New(relay.Options{
		Ledger:    ledger,
		Attempts:  st.attempts,
		Publisher: notifications,
		Signer:    wallets,
		Policy: relay.RetryPolicy{
			MaxAttempts:  cfg.RelayMaxAttempts,
			InitialDelay: cfg.RelayInitialDelay,
			MaxDelay:     cfg.RelayMaxDelay,
		},
		Logger: logger,
	})

	srv := api.New(api.Options{
		Sessions:  sessions,
		Wallets:   wallets,
		Submitter: submitter,
		Tokens:    st.tokens,
		Signing:   cfg.Signing,
		WS:        notifications.Handler(hub.WSOptions{MessagesPerSecond: cfg.HubMessageRate}),
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notifications.Run(gctx, cfg.HubPingInterval)
		return nil
	})

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		notifications.Close()
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newMinter(cfg *config.Config) builder.Minter {
	if cfg.MintEndpoint == "" {
		return nil
	}
	return builder.NewHTTPMinter(cfg.MintEndpoint, builder.WithCollaboratorTimeout(cfg.CollaboratorTimeout))
}

func newUploader(cfg *config.Config) builder.MetadataUploader {
	if cfg.MetadataEndpoint == "" {
		return nil
	}
	return builder.NewHTTPMetadataUploader(cfg.MetadataEndpoint, builder.WithCollaboratorTimeout(cfg.CollaboratorTimeout))
}
