// Command server runs the mealtrace auth backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "github.com/mealtrace/mealtrace/api/echo"
	"github.com/mealtrace/mealtrace/config"
	"github.com/mealtrace/mealtrace/internal/auth"
	"github.com/mealtrace/mealtrace/internal/federation"
	"github.com/mealtrace/mealtrace/internal/metrics"
	"github.com/mealtrace/mealtrace/internal/notify"
	"github.com/mealtrace/mealtrace/internal/server"
	"github.com/mealtrace/mealtrace/middleware"
	"github.com/mealtrace/mealtrace/mongodb"
	"github.com/mealtrace/mealtrace/services"
)

const jwksCacheTTL = 6 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	mongoClient, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("MongoDB connection failed")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.Warn().Err(err).Msg("MongoDB disconnect failed")
		}
	}()

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user repository")
	}
	sessionRepo, err := mongodb.NewSessionRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session repository")
	}
	identityRepo, err := mongodb.NewLinkedIdentityRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize linked identity repository")
	}
	resetRepo, err := mongodb.NewPasswordResetRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize password reset repository")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Rate limiting fails open, so a missing Redis degrades rather than
		// blocks startup.
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, rate limiting degraded")
	}

	// Identity providers.
	var verifiers []federation.Verifier
	if cfg.GoogleClientID != "" {
		keys := federation.NewKeySet(federation.GoogleJWKSURL, jwksCacheTTL)
		verifiers = append(verifiers, federation.NewGoogleVerifier(cfg.GoogleClientID, keys))
	}
	if cfg.AppleClientID != "" {
		keys := federation.NewKeySet(federation.AppleJWKSURL, jwksCacheTTL)
		verifiers = append(verifiers, federation.NewAppleVerifier(cfg.AppleClientID, keys))
	}
	if len(verifiers) == 0 {
		log.Warn().Msg("No identity providers configured, social login disabled")
	}

	// Core service.
	svc, err := services.NewAuthService(
		userRepo,
		sessionRepo,
		identityRepo,
		resetRepo,
		mongodb.NewTxRunner(mongoClient),
		auth.NewBcryptPasswordHasher(cfg.BcryptCost),
		services.NewTokenIssuer([]byte(cfg.JWTSecretKey), cfg.JWTIssuer, cfg.AccessTokenTTL()),
		federation.NewRegistry(verifiers...),
		notify.LogNotifier{},
		services.Options{
			RefreshTokenTTL: cfg.RefreshTokenTTL(),
			ResetTicketTTL:  cfg.ResetTicketTTL(),
			ReuseRevokesAll: cfg.RefreshReuseRevokesAll,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize auth service")
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(registry)

	// HTTP.
	limiter := middleware.NewRateLimiter(redisClient, cfg.RateLimitEnabled)
	httpServer := server.NewHTTPServer(cfg, echoapi.NewAuthAPI(svc, limiter), registry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
