package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-punchout/internal/app"
	"github.com/noah-isme/backend-punchout/internal/auth"
	"github.com/noah-isme/backend-punchout/internal/common"
	"github.com/noah-isme/backend-punchout/internal/config"
	"github.com/noah-isme/backend-punchout/internal/contract"
	"github.com/noah-isme/backend-punchout/internal/health"
	"github.com/noah-isme/backend-punchout/internal/jobs"
	"github.com/noah-isme/backend-punchout/internal/obs"
	"github.com/noah-isme/backend-punchout/internal/pricing"
	"github.com/noah-isme/backend-punchout/internal/punchout"
	"github.com/noah-isme/backend-punchout/internal/ratelimit"
	"github.com/noah-isme/backend-punchout/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "punchout")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "punchout-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(openCtx, cfg, app.Options{AppName: "punchout-api", RedisMetrics: metricsEnabled}, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	svcs, err := app.NewServices(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build services")
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.ServiceTokenSecret,
		Issuer:   cfg.ServiceTokenIssuer,
		Audience: cfg.ServiceTokenAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("service token verifier")
	}
	authMW := auth.Middleware{Verifier: verifier}

	apiLimit, err := ratelimit.APIMiddleware(deps.LimiterStore, cfg.APIRateLimit, ratelimit.Subject, func(err error) {
		logger.Error().Err(err).Msg("api rate limiter")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api rate limit")
	}
	setupLimit := ratelimit.NewSetupHandler(deps.Redis, cfg.SetupRateLimitPerMin, func(err error) {
		logger.Warn().Err(err).Msg("setup rate limiter")
	})
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	punchoutHandler := &punchout.Handler{Manager: svcs.Punchout, PayloadDomain: payloadDomain(cfg)}
	contractHandler := &contract.Handler{Svc: svcs.Contracts, Validate: deps.Validator}
	pricingHandler := &pricing.Handler{Quoter: svcs.Pricing}
	healthHandler := health.Handler{
		Checker:      health.Dependencies{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    envDurationMillis("HEALTH_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_REDIS_TIMEOUT_MS", 300),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_HTTP_BUCKETS_MS", ""))
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(metricsNamespace, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", NoStore: true}.Middleware)
	r.Use(security.BodyLimit{
		Max: cfg.BodyLimitBytes,
		ByMediaType: map[string]int64{
			"text/xml":        cfg.CXMLBodyLimitBytes,
			"application/xml": cfg.CXMLBodyLimitBytes,
		},
	}.Middleware)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), os.Getenv("OBS_PPROF_USER"), os.Getenv("OBS_PPROF_PASS")))
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.With(setupLimit.Middleware).Post("/punchout/setup", punchoutHandler.Setup)
		v.Get("/punchout/delivery/minimum", punchoutHandler.MinimumDeliveryDate)

		v.Group(func(s chi.Router) {
			s.Use(authMW.RequireService)
			s.Use(apiLimit)

			s.Post("/punchout/direct", punchoutHandler.OpenDirect)
			s.Route("/punchout/sessions/{token}", func(ps chi.Router) {
				ps.Get("/", punchoutHandler.Session)
				ps.Delete("/", punchoutHandler.Cancel)
				ps.Get("/cart", punchoutHandler.Cart)
				ps.Post("/cart/items", punchoutHandler.AddItem)
				ps.Patch("/cart/items/{partID}", punchoutHandler.UpdateItem)
				ps.Delete("/cart/items/{partID}", punchoutHandler.RemoveItem)
				ps.With(idem.Middleware).Post("/prepare", punchoutHandler.Prepare)
				ps.Post("/reopen", punchoutHandler.Reopen)
				ps.With(idem.Middleware).Post("/transfer", punchoutHandler.Transfer)
				ps.Get("/order", punchoutHandler.Order)
			})

			s.Post("/pricing/quote", pricingHandler.Quote)
			s.Post("/pricing/lowest", pricingHandler.Lowest)

			s.Route("/admin/contracts/{supplier}/discounts", func(a chi.Router) {
				a.Use(authMW.RequireScope(auth.ScopeAdmin))
				a.Put("/", contractHandler.Upsert)
				a.Get("/", contractHandler.List)
				a.Get("/lookup", contractHandler.Lookup)
			})
		})
	})

	if deps.Redis == nil {
		go jobs.RunTicker(ctx, cfg.SweepInterval, svcs.Punchout, logger.With().Str("component", "sweeper").Logger())
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func payloadDomain(cfg *config.Config) string {
	if u, err := url.Parse(cfg.StorefrontURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "punchout.local"
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
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

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
