package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/voiceflow/api/handlers"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/internal/cache"
	"github.com/BaSui01/voiceflow/internal/database"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/migration"
	"github.com/BaSui01/voiceflow/internal/server"
	"github.com/BaSui01/voiceflow/internal/telemetry"
	"github.com/BaSui01/voiceflow/llm/retry"
	"github.com/BaSui01/voiceflow/llm/speech"
	"github.com/BaSui01/voiceflow/llm/stream"
	"github.com/BaSui01/voiceflow/llm/tokenizer"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/voice/dispatch"
	"github.com/BaSui01/voiceflow/voice/events"
	vhandlers "github.com/BaSui01/voiceflow/voice/handlers"
	"github.com/BaSui01/voiceflow/voice/transport"
	"github.com/BaSui01/voiceflow/voice/turn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server wires the voice pipeline behind the HTTP API and a separate metrics
// listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	otel      *telemetry.Providers

	// 基础设施，未启用时为 nil
	cache *cache.Manager
	db    *database.PoolManager

	sessions     session.Store
	history      history.Store
	publisher    events.Publisher
	dispatcher   *dispatch.Dispatcher
	orchestrator *turn.Orchestrator
	hub          *transport.Hub

	healthHandler  *handlers.HealthHandler
	sessionHandler *handlers.SessionHandler
	voiceHandler   *handlers.VoiceHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer builds every component from cfg. ctx bounds background helpers
// such as the rate limiter janitor.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	return newServer(ctx, cfg, metrics.NewCollector("voiceflow", logger), logger)
}

func newServer(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, collector: collector}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		// 遥测不可用不影响服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	if err := s.initBackends(ctx); err != nil {
		s.closeBackends()
		return nil, err
	}
	if err := s.initPipeline(); err != nil {
		s.closeBackends()
		return nil, err
	}
	s.initHandlers()
	s.initManagers(ctx)
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initBackends connects redis, the history database and nats as configured.
func (s *Server) initBackends(ctx context.Context) error {
	cfg := s.cfg

	needRedis := cfg.Session.Backend == "redis" || cfg.Speech.CacheEnabled
	if needRedis {
		cm, err := cache.NewManager(cache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			KeyPrefix:           cfg.Redis.KeyPrefix,
			DefaultTTL:          cfg.Session.TTL,
			MaxRetries:          3,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, s.logger)
		switch {
		case err == nil:
			s.cache = cm
		case cfg.Session.Backend == "redis":
			return fmt.Errorf("failed to init session store: %w", err)
		default:
			s.logger.Warn("redis unavailable, synthesis cache disabled", zap.Error(err))
		}
	}

	if cfg.Session.Backend == "redis" {
		s.sessions = session.NewRedisStore(s.cache, cfg.Session.TTL, s.logger)
	} else {
		s.sessions = session.NewMemoryStore(cfg.Session.TTL)
	}

	if cfg.History.Backend == "database" {
		if err := s.openHistoryDatabase(ctx); err != nil {
			return err
		}
		s.history = history.NewGormStore(s.db, cfg.History.WriteRetries, s.logger)
	} else {
		s.history = history.NewMemoryStore()
	}

	return s.initPublisher()
}

func (s *Server) openHistoryDatabase(ctx context.Context) error {
	dbCfg := s.cfg.Database
	pool, err := database.Open(dbCfg.Driver, dbCfg.DSN(), database.PoolConfig{
		MaxOpenConns:        dbCfg.MaxOpenConns,
		MaxIdleConns:        dbCfg.MaxIdleConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		OnStats: func(st sql.DBStats) {
			s.collector.SetHistoryPool(st.OpenConnections, st.InUse, st.Idle)
		},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	s.db = pool

	if !dbCfg.AutoMigrate {
		return nil
	}
	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply history migrations: %w", err)
	}
	s.logger.Info("history migrations applied", zap.String("driver", dbCfg.Driver))
	return nil
}

// initPublisher fans turn summaries out to nats (when configured) and to the
// OpenTelemetry turn meter.
func (s *Server) initPublisher() error {
	var pubs events.MultiPublisher

	if url := s.cfg.Events.NATSURL; url != "" {
		np, err := events.NewNATSPublisher(url, s.cfg.Events.Subject, s.logger)
		if err != nil {
			return fmt.Errorf("failed to init turn publisher: %w", err)
		}
		pubs = append(pubs, np)
	}

	meter, err := telemetry.NewTurnMeter(nil)
	if err != nil {
		s.logger.Warn("turn meter unavailable", zap.Error(err))
	} else {
		pubs = append(pubs, meter)
	}

	s.publisher = pubs
	return nil
}

// initPipeline builds synthesis, the model stream, handlers and the
// orchestrator.
func (s *Server) initPipeline() error {
	cfg := s.cfg

	synth, err := speech.NewFromConfig(cfg.Speech, s.cache, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init speech synthesis: %w", err)
	}
	model, err := stream.NewFromConfig(cfg.LLM, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init model stream: %w", err)
	}

	opts := []vhandlers.Option{
		vhandlers.WithLogger(s.logger),
		vhandlers.WithCollector(s.collector),
		vhandlers.WithTimeout(cfg.Pipeline.HandlerTimeout),
	}
	hs := []vhandlers.Handler{
		vhandlers.NewSubtitleHandler(opts...),
		vhandlers.NewSpeechHandler(synth, cfg.Speech.DefaultVoice, opts...),
		vhandlers.NewTranscriptionHandler(s.history, opts...),
		vhandlers.NewActionHandler(nil, opts...),
	}
	s.dispatcher = dispatch.New(hs, dispatch.Config{LaneQueueSize: cfg.Pipeline.LaneQueueSize}, s.logger,
		dispatch.WithCollector(s.collector))

	deps := turn.Deps{
		Sessions:   s.sessions,
		Model:      model,
		Dispatcher: s.dispatcher,
		History:    s.history,
		Publisher:  s.publisher,
		Collector:  s.collector,
		Counter:    tokenizer.NewCounter(cfg.Pipeline.TokenizerModel, s.logger),
		Retry: &retry.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
	}
	if rs, ok := s.history.(history.ReportStore); ok {
		deps.Reports = rs
	}
	s.orchestrator = turn.New(deps, turn.Config{
		EventBuffer:  cfg.Pipeline.EventBuffer,
		TurnTimeout:  cfg.Pipeline.TurnTimeout,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Provider:     cfg.LLM.Provider,
	}, s.logger)

	s.logger.Info("voice pipeline initialized",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("speech_provider", cfg.Speech.Provider),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("history_backend", cfg.History.Backend),
		zap.Bool("synthesis_cache", s.cache != nil && cfg.Speech.CacheEnabled),
	)
	return nil
}

func (s *Server) initHandlers() {
	s.hub = transport.NewHub()

	s.healthHandler = handlers.NewHealthHandler(versionInfo(), s.logger)
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewCheck("redis", s.cache.Ping))
	}
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewCheck("database", s.db.Ping))
	}

	s.sessionHandler = handlers.NewSessionHandler(s.sessions, s.history, s.logger)
	s.voiceHandler = handlers.NewVoiceHandler(s.sessions, s.orchestrator, s.hub,
		transport.Config{}, s.cfg.Server.AllowedOrigins, s.collector, s.logger)
}

// =============================================================================
// 🌐 路由与服务器
// =============================================================================

// skipAuthPaths are served without credentials.
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Handler returns the API routes wrapped in the middleware chain.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion)

	mux.HandleFunc("POST /v1/sessions", s.sessionHandler.HandleCreate)
	mux.HandleFunc("GET /v1/sessions/{id}", s.sessionHandler.HandleGet)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.sessionHandler.HandleHistory)
	mux.HandleFunc("GET /v1/voice/ws", s.voiceHandler.HandleWebSocket)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
	)
}

func (s *Server) initManagers(ctx context.Context) {
	sc := s.cfg.Server
	s.httpManager = server.NewManager("http", s.Handler(ctx), server.Config{
		Addr: fmt.Sprintf(":%d", sc.HTTPPort),
		// WebSocket 连接长时间存活，WriteTimeout 由 transport 逐帧控制
		ReadTimeout:     sc.ReadTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
	s.httpManager.OnShutdown(func() {
		s.healthHandler.SetDraining()
		s.hub.CloseAll("server shutting down")
	})

	if sc.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
	}
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run serves until ctx is cancelled or a listener fails, then shuts down
// gracefully and releases every backend.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("voiceflow serving",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != ""),
	)

	err := g.Wait()
	s.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown runs after both listeners stopped: in-flight turns are drained by
// closing the dispatcher before the stores they write to.
func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")
	s.hub.CloseAll("server shutting down")
	if s.dispatcher != nil {
		s.logger.Info("draining dispatcher",
			zap.Int("open_handler_contexts", s.dispatcher.ContextCount()))
		s.dispatcher.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("turn publisher close error", zap.Error(err))
		}
	}
	s.closeBackends()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	s.logger.Info("graceful shutdown completed")
}

func (s *Server) closeBackends() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
		s.db = nil
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
		s.cache = nil
	}
}
