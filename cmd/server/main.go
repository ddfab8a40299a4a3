package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/cache"
	"github.com/swanstudios/scheduling-server-go/internal/config"
	"github.com/swanstudios/scheduling-server-go/internal/database"
	"github.com/swanstudios/scheduling-server-go/internal/handler"
	"github.com/swanstudios/scheduling-server-go/internal/httputil"
	"github.com/swanstudios/scheduling-server-go/internal/jobs"
	"github.com/swanstudios/scheduling-server-go/internal/middleware"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
	"github.com/swanstudios/scheduling-server-go/internal/redis"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
	"github.com/swanstudios/scheduling-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load time zone")
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	var (
		appCache  cache.Cache        = cache.NewMemoryCache()
		publisher notify.Publisher   = notify.NopPublisher{}
		limiter   middleware.Limiter = middleware.NewRateLimiter()
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		appCache = cache.NewRedisCache(redisClient.Client)
		publisher = notify.NewRedisPublisher(redisClient)
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}

	hours, err := service.NewConfigWorkingHours(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load working hours")
	}

	detector := service.NewConflictDetector(cfg.ConflictBuffer())
	finder := service.NewAlternativeSlotFinder(service.AlternativeFinderOptions{
		Hours:   hours,
		Buffer:  cfg.ConflictBuffer(),
		Step:    cfg.SlotIncrement(),
		Horizon: cfg.AlternativeHorizon(),
		Max:     cfg.MaxAlternatives,
		Loc:     loc,
	})
	validator := service.NewAssignmentValidator(service.AssignmentValidatorOptions{
		Store:          store,
		Detector:       detector,
		Cache:          appCache,
		StatsTTL:       cfg.StatsCacheTTL(),
		Publisher:      publisher,
		BookingTimeout: cfg.BookingTimeout(),
	})
	analytics := service.NewAnalyticsAggregator(store, appCache, cfg.AnalyticsCacheTTL(), loc, cfg.WeekStartDay())
	lifecycle := service.NewSessionLifecycle(service.LifecycleOptions{
		Store:          store,
		Detector:       detector,
		Finder:         finder,
		Validator:      validator,
		Analytics:      analytics,
		Publisher:      publisher,
		BookingTimeout: cfg.BookingTimeout(),
		Loc:            loc,
	})

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.EnableHSTS)

	sessionHandler := handler.NewSessionHandler(handler.SessionHandlerOptions{
		Lifecycle:    lifecycle,
		Validator:    validator,
		Analytics:    analytics,
		Auth:         middleware.NewAuthMiddleware(store.Users()).WithCache(appCache, config.AuthCacheTTL),
		OptionalAuth: middleware.NewOptionalAuthMiddleware(store.Users()).WithCache(appCache, config.AuthCacheTTL),
		RateLimit:    middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMinute),
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health: store unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{
			"status":    status,
			"store":     cfg.StoreDriver,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Mount("/sessions", sessionHandler.Routes())

	expiryJob := jobs.NewRequestExpiryJob(lifecycle, config.RequestExpiryJobInterval, cfg.RequestExpiryGrace())
	expiryJob.Start()
	defer expiryJob.Stop()

	if memCache, ok := appCache.(*cache.MemoryCache); ok {
		sweepJob := jobs.NewCacheSweepJob(memCache, config.CacheSweepInterval)
		sweepJob.Start()
		defer sweepJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// openStore returns the configured store and a function releasing it.
func openStore(cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		store := repository.NewMemoryStore()
		if cfg.SeedUsersFile != "" {
			f, err := os.Open(cfg.SeedUsersFile)
			if err != nil {
				return nil, nil, err
			}
			defer f.Close()
			n, err := repository.SeedUsers(store, f)
			if err != nil {
				return nil, nil, err
			}
			log.Info().Int("users", n).Str("file", cfg.SeedUsersFile).Msg("memory store seeded")
		}
		return store, func() {}, nil
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}

	return repository.NewPostgresStore(db), func() { db.Close() }, nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
