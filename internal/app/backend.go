package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/qbodemo/internal/config"
	"github.com/hitoshi/qbodemo/internal/database"
	"github.com/hitoshi/qbodemo/internal/handler"
	"github.com/hitoshi/qbodemo/internal/repository"
	"github.com/hitoshi/qbodemo/internal/session"
	"github.com/hitoshi/qbodemo/internal/worker/cleanup"
)

// pingTimeout は起動時の保存先への接続確認のタイムアウト。
const pingTimeout = 5 * time.Second

// sessionBackend は選択されたセッション保存先と付随する機能。
type sessionBackend struct {
	name  string
	store session.Store
	// expired は期限切れセッションの一括削除。Redisは TTL で失効するため nil。
	expired cleanup.ExpiredSessionDeleter
	health  handler.HealthCheckFunc
	close   func() error
}

// openSessionBackend は SESSION_BACKEND に応じて保存先を開き、接続を確認する。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendPostgres:
		return openPostgresBackend(ctx, cfg.DatabaseURL)
	case config.SessionBackendRedis:
		return openRedisBackend(ctx, cfg.RedisURL)
	case config.SessionBackendMemory, "":
		repo := repository.NewMemorySessionRepo()
		return &sessionBackend{
			name:    config.SessionBackendMemory,
			store:   repo,
			expired: repo,
			close:   func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %q", cfg.SessionBackend)
	}
}

func openPostgresBackend(ctx context.Context, databaseURL string) (*sessionBackend, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")

	repo := repository.NewPostgresSessionRepo(db)
	return &sessionBackend{
		name:    config.SessionBackendPostgres,
		store:   repo,
		expired: repo,
		health:  func(ctx context.Context) error { return pingDB(ctx, db) },
		close:   db.Close,
	}, nil
}

func pingDB(ctx context.Context, db *sql.DB) error {
	return database.Ping(ctx, db, 0)
}

func openRedisBackend(ctx context.Context, redisURL string) (*sessionBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	return &sessionBackend{
		name:   config.SessionBackendRedis,
		store:  repository.NewRedisSessionRepo(client),
		health: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:  client.Close,
	}, nil
}
