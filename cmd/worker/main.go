package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/gateway-orkestapay/internal/config"
	"github.com/noah-isme/gateway-orkestapay/internal/gateway"
	"github.com/noah-isme/gateway-orkestapay/internal/obs"
	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
	"github.com/noah-isme/gateway-orkestapay/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	outbound := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	tokens := &orkesta.TokenSource{
		AuthURL: cfg.AuthURL,
		Credentials: orkesta.Credentials{
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			WebhookSecret: cfg.WebhookSecret,
		},
		Cache:  orkesta.RedisCache{R: redisClient},
		HTTP:   outbound,
		Logger: logger.With().Str("component", "orkesta.tokens").Logger(),
	}
	apiClient := &orkesta.Client{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		HTTP:    outbound,
		Logger:  logger.With().Str("component", "orkesta.client").Logger(),
	}

	mode, err := gateway.ParseMode(cfg.FlowMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse flow mode")
	}
	svc := &gateway.Service{
		Store:              store.NewPG(pool),
		API:                apiClient,
		Logger:             logger.With().Str("component", "gateway").Logger(),
		Mode:               mode,
		MarkPaidOnResponse: cfg.MarkPaidOnResponse,
		Use3DS:             cfg.Use3DS,
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: envInt("WORKER_CONCURRENCY", 5),
		},
	)
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeRefundPropagate, &tasks.RefundHandler{
		Service: svc,
		Logger:  logger.With().Str("component", "tasks.refund").Logger(),
	})

	go func() {
		<-ctx.Done()
		logger.Info().Msg("worker draining")
		srv.Shutdown()
	}()

	logger.Info().Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
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
