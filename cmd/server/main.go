package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/archive"
	"github.com/stemsi/trivia-engine/internal/cache"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/database"
	"github.com/stemsi/trivia-engine/internal/handler"
	"github.com/stemsi/trivia-engine/internal/logger"
	"github.com/stemsi/trivia-engine/internal/middleware"
	"github.com/stemsi/trivia-engine/internal/repository"
	"github.com/stemsi/trivia-engine/internal/router"
	"github.com/stemsi/trivia-engine/internal/service"
	"github.com/stemsi/trivia-engine/internal/session"
	"github.com/stemsi/trivia-engine/internal/stats"
	"github.com/stemsi/trivia-engine/internal/store"
	"github.com/stemsi/trivia-engine/internal/validator"
	ws "github.com/stemsi/trivia-engine/internal/websocket"
	"github.com/stemsi/trivia-engine/internal/worker"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("grpc_port", cfg.GRPCPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Str("stats_sink", cfg.StatsSink).
		Msg("Starting trivia engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	checks := map[string]handler.Pinger{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// ─── Stats recorder ────────────────────────────────────────────────
	// With the AMQP sink, stats live in the user service and are not served here.
	statsRepo := repository.NewUserStatsRepository(pool)
	var (
		recorder    stats.Recorder      = statsRepo
		statsReader service.StatsReader = statsRepo
	)
	if cfg.StatsSink == config.StatsSinkAMQP {
		mq, err := database.NewRabbitMQ(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer mq.Close()

		amqpRecorder, err := stats.NewAMQPRecorder(mq.Channel, config.WorkerKey.UserStatsAMQPQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to declare stats queue")
		}
		recorder = amqpRecorder
		statsReader = nil
		checks["rabbitmq"] = func(context.Context) error {
			if mq.Conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}

	// ─── Session store ─────────────────────────────────────────────────
	var (
		backend store.Backend
		codes   store.JoinCodeIndex
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		backend = repository.NewSessionRepository(pool)
		codes = cache.NewJoinCodeIndex(rdb)
	default:
		backend = store.NewMemoryBackend()
		codes = store.NewMemoryJoinCodeIndex()
	}

	clk := clock.Real()
	sessionStore := store.New(backend, codes, clk, log)
	results := repository.NewResultRepository(pool)
	queue := stats.NewQueue(rdb)
	boards := cache.NewLeaderboardCache(rdb)
	registry := ws.NewRegistry(log)

	manager := session.NewManager(session.Deps{
		Store:       sessionStore,
		Sink:        registry,
		Archiver:    archive.New(results, sessionStore, queue, clk, log),
		Leaderboard: boards,
		Clock:       clk,
	}, session.Config{
		FirstQuestionDelay:   cfg.FirstQuestionDelay,
		AutoAdvanceBuffer:    cfg.AutoAdvanceBuffer,
		LateTolerance:        cfg.LateTolerance,
		HostDisconnectPolicy: session.HostDisconnectPolicy(cfg.HostDisconnectPolicy),
		HostGracePeriod:      cfg.HostGracePeriod,
	}, log)

	// ─── Initialize Services & Handlers ───────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTIssuer)
	resultService := service.NewResultService(manager, boards, results, statsReader)

	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(manager, resultService, cfg.DefaultMaxSpeedBonus),
		WS:      handler.NewWSHandler(manager, registry, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(manager, registry, queue, log),
		Health:  handler.NewHealthHandler(checks),
	}
	// A single in-memory instance keeps its join budget locally; shared stores share it in Redis.
	var (
		joinLimiter  middleware.Limiter
		localLimiter *middleware.RateLimiter
	)
	if cfg.StoreBackend == config.StoreBackendPostgres {
		joinLimiter = middleware.NewRedisRateLimiter(rdb, cfg.JoinRateLimitPerMin, time.Minute, log)
	} else {
		localLimiter = middleware.NewRateLimiter(cfg.JoinRateLimitPerMin, time.Minute)
		joinLimiter = localLimiter
	}

	r := router.SetupRouter(authService, joinLimiter, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── gRPC health ───────────────────────────────────────────────────
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen for gRPC")
	}

	// ─── Run ───────────────────────────────────────────────────────────
	statsWorker := worker.NewStatsWorker(rdb, recorder, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		statsWorker.Start(gctx)
		return nil
	})

	if localLimiter != nil {
		g.Go(func() error {
			localLimiter.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", grpcLis.Addr().String()).Msg("gRPC health listening")
		return grpcServer.Serve(grpcLis)
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		// 1. Stop accepting new HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// 2. Stop the coordinators; in-flight commands finish first.
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Session manager shutdown error")
		}

		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
