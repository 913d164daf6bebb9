// Package bootstrap builds the shared infrastructure of the server binaries
// from env.Config.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"livechat-backend/internal/database"
	"livechat-backend/internal/env"
	"livechat-backend/internal/lock"
	"livechat-backend/internal/logger"
	"livechat-backend/internal/ratelimit"
	"livechat-backend/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Init loads configuration and the root logger. Failures are printed and
// the process exits, there is nothing to log them with yet.
func Init(binary string) (*env.Config, zerolog.Logger) {
	cfg, err := env.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: config: %v\n", binary, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: logger: %v\n", binary, err)
		os.Exit(1)
	}
	return cfg, log.With().Str("binary", binary).Logger()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func NewRepository(ctx context.Context, cfg *env.Config, log zerolog.Logger) (store.Repository, error) {
	switch cfg.StoreBackend {
	case env.StoreBackendMemory:
		log.Warn().Msg("using in-memory store, data is lost on exit")
		return store.NewMemoryRepository(), nil
	default:
		db, err := database.NewDatabase(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("db init failed: %w", err)
		}
		return store.NewDynamoRepository(db), nil
	}
}

func NewRedisClient(ctx context.Context, cfg env.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewLocker returns the configured locker. rdb may be nil only for the
// memory backend.
func NewLocker(cfg *env.Config, rdb redis.UniversalClient, log zerolog.Logger) (lock.Locker, error) {
	switch cfg.LockBackend {
	case env.LockBackendMemory:
		log.Warn().Msg("using in-process locks, do not run more than one replica")
		return lock.NewMemoryLocker(cfg.LockWait), nil
	default:
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend needs a redis client")
		}
		return lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait, logger.Component(log, "locker")), nil
	}
}

// NewIncomingLimiter returns nil when rate limiting is off. Without redis the
// counters are per process.
func NewIncomingLimiter(cfg *env.Config, rdb redis.UniversalClient) ratelimit.Limiter {
	if cfg.IncomingRateLimit <= 0 {
		return nil
	}
	if rdb == nil {
		return ratelimit.NewMemoryFixedWindow(cfg.IncomingRateLimit, cfg.IncomingRateWindow)
	}
	return ratelimit.NewRedisFixedWindow(rdb, cfg.IncomingRateLimit, cfg.IncomingRateWindow)
}
