package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/api/handlers"
	"github.com/spanforge/spanforge/config"
	"github.com/spanforge/spanforge/ingest"
	"github.com/spanforge/spanforge/internal/database"
	"github.com/spanforge/spanforge/internal/metrics"
	"github.com/spanforge/spanforge/internal/pool"
	"github.com/spanforge/spanforge/internal/server"
	"github.com/spanforge/spanforge/internal/telemetry"
	"github.com/spanforge/spanforge/store"
	"github.com/spanforge/spanforge/tokenizer"
)

// Server wires the ingestion pipeline behind the HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler    *handlers.HealthHandler
	ingestionHandler *handlers.IngestionHandler
	legacyHandler    *handlers.LegacyHandler

	collector  *metrics.Collector
	otel       *telemetry.Providers
	poolMgr    *database.PoolManager
	redis      *redis.Client
	workerPool *pool.WorkerPool

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up the pipeline, the API listener, and the metrics
// listener.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("spanforge", prometheus.DefaultRegisterer, s.logger)

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// initPipeline builds the store, registry, tokenizer, reconciler, and
// dispatcher, then the handlers on top of them.
func (s *Server) initPipeline() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	var (
		gateway  store.PersistenceGateway
		registry store.ModelRegistry
	)

	db, err := openDatabase(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	if db != nil {
		driver := s.cfg.Database.Driver
		poolCfg := database.DefaultPoolConfig()
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
		poolCfg.OnStats = func(stats sql.DBStats) {
			s.collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
		}
		poolMgr, err := database.NewPoolManager(db, poolCfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to configure connection pool: %w", err)
		}
		s.poolMgr = poolMgr

		gateway = store.NewGormGateway(db, s.logger).WithCollector(s.collector)
		registry = store.NewGormRegistry(db, s.logger)
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", poolMgr.Ping))
	} else {
		s.logger.Info("no database configured, using in-memory gateway")
		gateway = store.NewMemoryGateway()
		registry = s.fileRegistry()
	}

	if s.cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		registry = store.NewCachedRegistry(registry, s.redis, s.cfg.Redis.RegistryTTL, s.collector, s.logger)
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}

	normalizer := ingest.NewNormalizer(s.logger)
	reconciler := ingest.NewReconciler(
		gateway,
		registry,
		tokenizer.New(),
		s.cfg.Ingestion.LockShards,
		s.collector,
		s.logger,
	)

	s.workerPool = pool.New(pool.Config{
		MaxWorkers: s.cfg.Ingestion.MaxWorkers,
		QueueSize:  s.cfg.Ingestion.QueueSize,
	})

	dispatcher := ingest.NewDispatcher(normalizer, reconciler, s.workerPool, s.collector, s.logger)

	s.ingestionHandler = handlers.NewIngestionHandler(dispatcher, s.cfg.Ingestion.MaxBatchSize, s.logger)
	s.legacyHandler = handlers.NewLegacyHandler(normalizer, reconciler, s.logger)
	return nil
}

// fileRegistry loads model definitions from the configured file, or
// returns an empty registry when none is set.
func (s *Server) fileRegistry() store.ModelRegistry {
	if s.cfg.Ingestion.ModelFilePath == "" {
		return store.NewStaticRegistry(nil)
	}
	models, err := store.LoadModelFile(s.cfg.Ingestion.ModelFilePath)
	if err != nil {
		s.logger.Warn("failed to load model file, registry is empty",
			zap.String("path", s.cfg.Ingestion.ModelFilePath),
			zap.Error(err),
		)
		return store.NewStaticRegistry(nil)
	}
	s.logger.Info("model definitions loaded",
		zap.String("path", s.cfg.Ingestion.ModelFilePath),
		zap.Int("models", len(models)),
	)
	return store.NewStaticRegistry(models)
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/public/ingestion", methodOnly(http.MethodPost, s.ingestionHandler.HandleIngestion))
	mux.HandleFunc("/api/public/traces", methodOnly(http.MethodPost, s.legacyHandler.HandleCreateTrace))
	mux.HandleFunc("/api/public/scores", methodOnly(http.MethodPost, s.legacyHandler.HandleCreateScore))
	mux.HandleFunc("/api/public/generations", createOrUpdate(
		s.legacyHandler.HandleCreateGeneration, s.legacyHandler.HandleUpdateGeneration))
	mux.HandleFunc("/api/public/spans", createOrUpdate(
		s.legacyHandler.HandleCreateSpan, s.legacyHandler.HandleUpdateSpan))

	skipAuthPaths := []string{"/health", "/ready", "/version"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		ProjectAuth(s.cfg.Auth, skipAuthPaths, s.logger),
		ProjectRateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// methodOnly rejects every method but the given one.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// createOrUpdate routes POST to create and PATCH to update.
func createOrUpdate(create, update http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			create(w, r)
		case http.MethodPatch:
			update(w, r)
		default:
			w.Header().Set("Allow", "POST, PATCH")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// WaitForShutdown blocks until a termination signal, then cleans up.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and drains the pipeline.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.workerPool != nil {
		s.workerPool.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.poolMgr != nil {
		if err := s.poolMgr.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
