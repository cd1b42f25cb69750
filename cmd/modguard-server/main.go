package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/api"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/chread"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/metrics"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/nlp"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/reload"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/server"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("MODGUARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("MODGUARD_HTTP_PORT", "8080")
	grpcPort := envOrDefault("MODGUARD_GRPC_PORT", "9090")
	classifierTimeout := envOrDefaultDuration("MODGUARD_CLASSIFIER_TIMEOUT_MS", 2000, time.Millisecond)
	policyFile := os.Getenv("MODGUARD_POLICY_FILE")
	classifierEndpoint := os.Getenv("CLASSIFIER_ENDPOINT")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	redisAddr := os.Getenv("REDIS_ADDR")
	sqlitePath := os.Getenv("MODGUARD_SQLITE_PATH")
	authCacheTTL := envOrDefaultDuration("MODGUARD_AUTH_CACHE_TTL_S", 30, time.Second)
	rateLimitRPS := envOrDefaultFloat("MODGUARD_RATE_LIMIT_RPS", 50)
	rateLimitBurst := envOrDefaultInt("MODGUARD_RATE_LIMIT_BURST", 100)
	scoreCacheTTL := envOrDefaultDuration("MODGUARD_SCORE_CACHE_TTL_S", 300, time.Second)

	logger.Info("starting moderation server",
		zap.String("http_port", httpPort),
		zap.String("grpc_port", grpcPort),
		zap.Duration("classifier_timeout", classifierTimeout),
		zap.String("policy_file", policyFile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()

	// Moderation table. A bad file at startup is fatal; later bad edits keep
	// the previous table live.
	cfg, hash, err := engine.LoadConfigFile(policyFile)
	if err != nil {
		logger.Fatal("failed to load policy file", zap.String("path", policyFile), zap.Error(err))
	}
	holder := engine.NewSnapshotHolder(engine.NewSnapshot(cfg))
	logger.Info("policy loaded",
		zap.String("version", cfg.Version),
		zap.String("hash", hash),
	)

	// Classifiers. The remote model is conditional; the heuristic always runs.
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, score cache will bypass until it recovers", zap.Error(err))
		} else {
			logger.Info("redis score cache connected", zap.String("addr", redisAddr))
		}
	}

	cls := []engine.Classifier{classifiers.NewHeuristicClassifier()}
	if classifierEndpoint != "" {
		remote, err := classifiers.NewRemoteClassifier(classifierEndpoint, classifiers.BreakerSettings{}, logger)
		if err != nil {
			logger.Error("failed to create remote classifier, skipping",
				zap.String("endpoint", classifierEndpoint),
				zap.Error(err),
			)
		} else {
			defer func() { _ = remote.Close() }()
			var c engine.Classifier = remote
			if rdb != nil {
				c = classifiers.NewCachedClassifier(remote, rdb, scoreCacheTTL, logger)
			}
			cls = append(cls, c)
		}
	}

	eng := engine.NewModerationEngine(cls, classifierTimeout, holder, nlp.NewAnnotator(), logger)

	// Audit storage: ClickHouse, then local SQLite, then the log writer.
	var writer storage.EventWriter
	var reader chread.EventReader
	switch {
	case clickhouseDSN != "":
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
			break
		}
		writer = chWriter
		logger.Info("clickhouse writer connected")

		chReader, err := chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			reader = chReader
			logger.Info("clickhouse reader connected")
		}
	case sqlitePath != "":
		db, err := storage.OpenSQLite(sqlitePath)
		if err != nil {
			logger.Fatal("failed to open sqlite audit store", zap.String("path", sqlitePath), zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		writer = storage.NewSQLiteWriter(db, logger)
		reader = chread.NewSQLiteReader(db, logger)
		logger.Info("sqlite audit store opened", zap.String("path", sqlitePath))
	default:
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN or MODGUARD_SQLITE_PATH set, using log writer")
	}
	defer writer.Close()
	if reader != nil {
		defer func() { _ = reader.Close() }()
	}

	// Postgres: project store and key authentication
	deps := &api.Dependencies{
		Reader:  reader,
		Metrics: rec,
		Limiter: api.NewProjectLimiter(rateLimitRPS, rateLimitBurst),
		Logger:  logger,
	}
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore := store.NewStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		deps.Store = pgStore
		deps.Auth = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: authCacheTTL,
			Logger:   logger,
		})
		logger.Info("postgres connected")
	} else {
		deps.Auth = auth.NewStaticAuthenticator()
		logger.Warn("no POSTGRES_DSN set, accepting any tsk_ key and project management is disabled")
	}
	deps.Moderation = moderation.NewService(eng, writer, rec, logger)

	// HTTP API server
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	server.RegisterModerationServer(grpcServer, server.NewModerationServer(deps.Moderation, deps.Auth, deps.Limiter, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", grpcPort), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if policyFile != "" {
		reloader, err := reload.NewReloader(policyFile, holder, rec, logger)
		if err != nil {
			logger.Warn("policy hot reload disabled", zap.Error(err))
		} else {
			g.Go(func() error { return reloader.Run(gctx) })
		}
	}

	// Block until a signal arrives or a server fails
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("moderation server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envOrDefaultDuration reads an integer count of unit.
func envOrDefaultDuration(key string, defaultVal int, unit time.Duration) time.Duration {
	return time.Duration(envOrDefaultInt(key, defaultVal)) * unit
}
