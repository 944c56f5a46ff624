package main

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"keyledger/backend/internal/config"
	"keyledger/backend/internal/health"
	"keyledger/backend/internal/storage"
	"keyledger/backend/internal/storage/filesystem"
	"keyledger/backend/internal/storage/memory"
	"keyledger/backend/internal/storage/postgres"
	"keyledger/backend/internal/storage/redis"
	sqlstore "keyledger/backend/internal/storage/sql"
)

// storageBackend 存储实现及其附加的就绪检查
type storageBackend struct {
	store     storage.Store
	readiness map[string]healthcheck.Check
}

// openStore 根据 storage.backend 选择存储实现
func openStore(cfg *config.Config, log *zap.Logger) (*storageBackend, error) {
	b := &storageBackend{readiness: make(map[string]healthcheck.Check)}

	switch cfg.Storage.Backend {
	case config.BackendFile:
		store, err := filesystem.NewStore(cfg.Storage.MasterKeysPath, cfg.Storage.SubKeysPath)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		b.store = store
		log.Info("using file storage",
			zap.String("master_keys_path", store.MasterKeysPath()),
			zap.String("sub_keys_path", store.SubKeysPath()),
		)

	case config.BackendMemory:
		b.store = memory.NewStore()
		log.Warn("using memory storage, data is lost on restart")

	case config.BackendRedis:
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.store = redis.NewStore(client, cfg.Redis.KeyPrefix)
		b.readiness["redis"] = health.PingCheck(client.Ping)
		log.Info("using redis storage",
			zap.String("address", cfg.Redis.Address),
			zap.String("key_prefix", cfg.Redis.KeyPrefix),
		)

	case config.BackendMySQL, config.BackendPostgres:
		store, err := sqlstore.NewStore(
			cfg.Storage.Backend,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
		}
		b.store = store
		log.Info("using database storage", zap.String("type", cfg.Storage.Backend))

	case config.BackendPgx:
		client, err := postgres.New(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := postgres.NewStore(client)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("open pgx store: %w", err)
		}
		b.store = store
		b.readiness["postgres"] = health.PingCheck(client.Ping)
		log.Info("using postgres storage (pgx)")

	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Storage.Backend)
	}

	return b, nil
}
