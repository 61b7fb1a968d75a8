/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the VSLA engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load VSLA_* configuration, apply command-line overrides
  2. Initialize SQLite store, ledger and loan service
  3. Build token verifiers (local HS256 and/or external JWKS)
  4. Pick the schedule cache (Redis when configured, in-process LRU otherwise)
  5. Configure HTTP router and start the arrears scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides VSLA_PORT)
  -db      SQLite database path (overrides VSLA_DB_PATH)
           Use ":memory:" for in-memory database
  -dev     Enable dev login and demo scenarios (overrides VSLA_DEV_LOGIN)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (VSLA_SHUTDOWN_TIMEOUT)
  3. Stop the arrears scheduler and rate limiter
  4. Close database and cache connections

EXAMPLES:
  # Local development with demo data
  VSLA_SESSION_SECRET=$(openssl rand -hex 32) ./server -dev -db=":memory:"

  # Production behind an identity provider
  VSLA_JWKS_URL=https://id.example.org/.well-known/jwks.json \
  VSLA_JWKS_ISSUER=https://id.example.org/ ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
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

	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/api"
	"github.com/warp/vsla-engine/cache"
	"github.com/warp/vsla-engine/config"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/session"
	"github.com/warp/vsla-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	dev := flag.Bool("dev", cfg.DevLogin, "Enable dev login and demo scenarios")
	flag.Parse()
	cfg.Port, cfg.DBPath, cfg.DevLogin = *port, *dbPath, *dev

	log := config.NewLogger(cfg, nil)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	l := ledger.New(store)
	svc := loans.NewService(store, store, l, loans.Policy{
		FallbackRatePercent: cfg.FallbackRatePercent,
		AutoApprove:         cfg.AutoApproveLoans,
	}, log.With().Str("component", "loans").Logger())

	// Sessions
	var verifiers session.Chain
	var codec *session.Codec
	if cfg.SessionSecret != "" {
		codec, err = session.NewCodec([]byte(cfg.SessionSecret), cfg.SessionIssuer, cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("VSLA_SESSION_SECRET: %w", err)
		}
		verifiers = append(verifiers, codec)
	}
	if cfg.JWKSURL != "" {
		jwks, err := session.NewJWKSVerifier(session.JWKSConfig{
			URL:             cfg.JWKSURL,
			Issuer:          cfg.JWKSIssuer,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: cfg.JWKSRefreshInterval,
			Leeway:          30 * time.Second,
		}, log)
		if err != nil {
			return err
		}
		verifiers = append(verifiers, jwks)
		log.Info().Str("url", cfg.JWKSURL).Msg("external identity provider enabled")
	}
	if len(verifiers) == 0 {
		return errors.New("no token verifier configured: set VSLA_SESSION_SECRET or VSLA_JWKS_URL")
	}
	if cfg.DevLogin {
		if codec == nil {
			return errors.New("VSLA_DEV_LOGIN requires VSLA_SESSION_SECRET")
		}
		log.Warn().Msg("dev login and demo scenarios are enabled")
	}

	// Schedule cache
	var scheduleCache cache.Cache = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-process cache")
		} else {
			scheduleCache = rc
		}
	}
	log.Info().Str("cache", scheduleCache.Name()).Msg("schedule cache ready")

	// Initialize handler
	handler := api.NewHandler(store, l, svc, log)
	handler.Schedules = cache.Schedules{Cache: scheduleCache}
	if cfg.DevLogin {
		handler.Sessions = codec
	}

	limiter := api.NewRateLimiter(cfg.CalcRateLimit, cfg.CalcRateWindow)
	defer limiter.Stop()

	scheduler := api.NewArrearsScheduler(svc, log.With().Str("component", "arrears").Logger())
	scheduler.CheckInterval = cfg.ArrearsInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Verifier:       verifiers,
		AllowedOrigins: cfg.AllowedOrigins,
		CalcLimiter:    limiter,
		Scheduler:      scheduler,
		DevRoutes:      cfg.DevLogin,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("db", cfg.DBPath).
			Str("version", config.Version).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
