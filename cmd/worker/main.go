package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-punchout/internal/app"
	"github.com/noah-isme/backend-punchout/internal/config"
	"github.com/noah-isme/backend-punchout/internal/jobs"
	"github.com/noah-isme/backend-punchout/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "punchout"), nil)

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("worker requires REDIS_URL; without it the API sweeps sessions itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(openCtx, cfg, app.Options{AppName: "punchout-worker", SkipMigrations: true}, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	svcs, err := app.NewServices(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build services")
	}

	redisOpt, err := app.TaskRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("task broker")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     envInt("WORKER_CONCURRENCY", 2),
		ShutdownTimeout: 30 * time.Second,
		Logger:          asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	jobs.Register(mux, jobs.SweepHandler{Sweeper: svcs.Punchout, Logger: logger})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger{logger: logger}})
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	entryID, err := scheduler.Register(spec, jobs.NewSweepTask(cfg.SweepInterval))
	if err != nil {
		logger.Fatal().Err(err).Msg("register sweep schedule")
	}
	logger.Info().Str("entry", entryID).Str("spec", spec).Msg("sweep scheduled")

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Msg("worker started")

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
