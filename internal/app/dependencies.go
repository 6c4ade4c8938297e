package app

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-punchout/internal/config"
	"github.com/noah-isme/backend-punchout/internal/db"
	"github.com/noah-isme/backend-punchout/internal/obs"
	"github.com/noah-isme/backend-punchout/internal/ratelimit"
)

// Dependencies holds the shared infrastructure handles. DB and Redis are nil
// when their URL is not configured; callers fall back to in-process stores.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
}

// Options tune how dependencies are opened.
type Options struct {
	AppName        string
	RedisMetrics   bool
	LimiterPrefix  string
	SkipMigrations bool
}

// Open connects the configured backends and runs migrations when enabled.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Validator: validator.New(validator.WithRequiredStructEnabled())}

	if cfg.DatabaseURL != "" {
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL, opts.AppName, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		deps.DB = pool
		if cfg.DBAutoMigrate && !opts.SkipMigrations {
			if err := migrateUp(cfg.DatabaseURL); err != nil {
				deps.Close()
				return nil, err
			}
			logger.Info().Msg("database migrations applied")
		}
	} else {
		logger.Warn().Msg("DATABASE_URL not set; contracts and orders are kept in memory")
	}

	if cfg.RedisURL != "" {
		client, err := OpenRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Redis = client
	} else {
		logger.Warn().Msg("REDIS_URL not set; sessions, carts and locks are process-local")
	}

	prefix := opts.LimiterPrefix
	if prefix == "" {
		prefix = "limiter"
	}
	store, err := ratelimit.NewStore(deps.Redis, prefix)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	deps.LimiterStore = store
	return deps, nil
}

// Close releases every open handle.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// OpenPostgres opens a traced pgx pool and verifies connectivity.
func OpenPostgres(ctx context.Context, url, appName string, maxConns int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis opens an instrumented Redis client and verifies connectivity.
func OpenRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TaskRedis converts REDIS_URL into asynq connection options.
func TaskRedis(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for tasks: %w", err)
	}
	return opt, nil
}

// HashSecret produces the argon2id hash stored in PUNCHOUT_CREDENTIALS.
func HashSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2id.DefaultParams)
}

func migrateUp(url string) error {
	m, err := db.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(m) }()
	if err := db.RunMigrations(m); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
