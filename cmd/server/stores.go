package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"solana-action-relay/internal/config"
	"solana-action-relay/internal/session"
	"solana-action-relay/internal/storage"
	chstore "solana-action-relay/internal/storage/clickhouse"
	"solana-action-relay/internal/storage/memory"
	"solana-action-relay/internal/storage/migrations"
	pgstore "solana-action-relay/internal/storage/postgres"
	redisstore "solana-action-relay/internal/storage/redis"
)

// stores holds the storage implementations.
type stores struct {
	wallets  storage.WalletStore
	tokens   storage.TokenMetadataStore
	attempts storage.RelayAttemptStore
	sessions storage.SessionStore
	// sessionLock is set when sessions are shared between processes.
	sessionLock session.Locker
}

// createStores connects the configured backends. Sessions live in Redis,
// guarded by a shared key lock, when REDIS_ADDR is set and in memory otherwise.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st := &stores{}
	if cfg.UseMemory {
		st.wallets = memory.NewWalletStore()
		st.tokens = memory.NewTokenMetadataStore()
		st.attempts = memory.NewRelayAttemptStore()
	} else {
		pool, err := pgstore.NewPool(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)

		var chConn *chstore.Conn
		if cfg.RunMigrations {
			applied, err := migrations.RunPostgresMigrations(connectCtx, pool)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied", zap.Strings("files", applied))

			chConn, err = migrations.RunClickhouseMigrations(connectCtx, cfg.ClickhouseDSN)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
			}
		} else {
			chConn, err = chstore.NewConn(connectCtx, cfg.ClickhouseDSN)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
			}
		}
		closers = append(closers, func() { _ = chConn.Close() })

		st.wallets = pgstore.NewWalletStore(pool)
		st.tokens = pgstore.NewTokenMetadataStore(pool)
		st.attempts = chstore.NewRelayAttemptStore(chConn)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		// The TTL backstops the manager's own idle check.
		st.sessions = redisstore.NewSessionStore(client, 2*cfg.SessionIdleTimeout)
		st.sessionLock = redisstore.NewKeyLock(client, cfg.SessionLockTTL)
	} else {
		st.sessions = memory.NewSessionStore()
	}

	return st, cleanup, nil
}
