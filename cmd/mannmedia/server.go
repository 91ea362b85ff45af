package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/handoff"
	"github.com/rvndrmann/mannmediaagency-sub005/agent/persistence"
	"github.com/rvndrmann/mannmediaagency-sub005/api/handlers"
	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/database"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/server"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/telemetry"
	"github.com/rvndrmann/mannmediaagency-sub005/scheduler"
	"github.com/rvndrmann/mannmediaagency-sub005/workflow"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, metrics endpoint and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting mannmedia",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := NewServer(cfg, logger)
			if err := srv.Start(ctx); err != nil {
				srv.Shutdown()
				return err
			}
			srv.Wait(ctx)
			srv.Shutdown()
			return nil
		},
	}
}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装全部组件并管理其生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	telemetry *telemetry.Providers
	collector *metrics.Collector
	db        *gorm.DB
	pool      *database.PoolManager

	// 业务组件
	tracker   *workflow.Tracker
	registry  *handoff.Registry
	scheduler *scheduler.Scheduler
	taskRepo  *scheduler.Repository

	healthHandler *handlers.HealthHandler

	// 后台 goroutine 生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化全部组件并启动 HTTP 服务，不阻塞
func (s *Server) Start(ctx context.Context) error {
	// 1. 遥测与指标
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	s.telemetry = providers
	s.collector = metrics.NewCollector("mannmedia", nil, s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 2. 数据库（工作流状态与定时任务）
	if err := s.initDatabase(); err != nil {
		return err
	}

	// 3. 业务组件
	if err := s.initComponents(); err != nil {
		return err
	}

	// 4. 后台任务
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startWorkers(bgCtx)

	// 5. HTTP 服务
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("database", s.db != nil),
		zap.Bool("scheduler", s.cfg.Scheduler.Enabled && s.scheduler != nil),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initDatabase() error {
	if s.cfg.Database.Driver == "" {
		s.logger.Info("Database driver not configured, workflow state stays in memory and scheduler is disabled")
		return nil
	}

	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.db = db

	driver := s.cfg.Database.Driver
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithHealthCheckHook(func(healthy bool, stats sql.DBStats) {
			s.collector.RecordDBHealth(driver, healthy)
			s.collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create pool manager: %w", err)
	}
	s.pool = pool
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))

	s.logger.Info("Database connected", zap.String("driver", driver))
	return nil
}

func (s *Server) initComponents() error {
	// 工作流阶段跟踪
	var primary workflow.StateStore
	if s.db != nil && s.cfg.Workflow.PersistEnabled {
		primary = workflow.NewGormStateStore(s.db, s.cfg.Workflow.StoreTimeout)
	}
	s.tracker = workflow.NewTracker(primary, workflow.BreakerConfigFrom(s.cfg.Workflow), s.logger,
		workflow.WithTrackerMetrics(s.collector))

	// 交接协调
	store, err := persistence.NewSessionStore(persistence.StoreConfigFrom(s.cfg.Handoff, s.cfg.Redis))
	if err != nil {
		return fmt.Errorf("failed to create handoff store: %w", err)
	}
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("handoff_store", store.Ping))

	var orchestrator handoff.Orchestrator
	if s.cfg.Handoff.OrchestratorURL != "" {
		orchestrator = handoff.NewHTTPOrchestrator(s.cfg.Handoff.OrchestratorURL, s.cfg.Handoff.OrchestratorTimeout, s.logger)
	} else {
		s.logger.Warn("Handoff orchestrator URL not configured, handoffs will fail when processed")
		orchestrator = handoff.OrchestratorFunc(unconfiguredOrchestrator)
	}
	s.registry = handoff.NewRegistry(store, orchestrator, handoff.CoordinatorConfigFrom(s.cfg.Handoff), s.logger,
		handoff.WithCoordinatorMetrics(s.collector), handoff.WithFilters(handoff.FiltersFrom(s.cfg.Handoff)...))

	// 定时任务
	if s.db != nil {
		s.taskRepo = scheduler.NewRepository(s.db, s.logger)
		dispatcher := scheduler.NewHTTPDispatcher(s.cfg.Scheduler.ExecutionEndpoint, s.cfg.Scheduler.ExecutionToken,
			s.cfg.Scheduler.DispatchTimeout, s.logger)
		s.scheduler = scheduler.New(s.taskRepo, dispatcher, scheduler.ConfigFrom(s.cfg.Scheduler), s.logger,
			scheduler.WithCredits(scheduler.NewGormCreditLedger(s.db)),
			scheduler.WithMetrics(s.collector),
		)
	}

	s.logger.Info("Components initialized")
	return nil
}

func unconfiguredOrchestrator(context.Context, handoff.TransferRequest) (json.RawMessage, error) {
	return nil, errors.New("orchestrator endpoint not configured")
}

func (s *Server) startWorkers(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.Run(ctx)
	}()

	if s.scheduler != nil && s.cfg.Scheduler.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduler.Run(ctx, s.cfg.Scheduler.TickInterval)
		}()
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewWorkflowHandler(s.tracker, s.logger).Register(mux)
	handlers.NewHandoffHandler(s.registry, s.logger).Register(mux)
	if s.scheduler != nil {
		handlers.NewSchedulerHandler(s.scheduler, s.taskRepo, s.logger).Register(mux)
	}
	return mux
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.JWT.Secret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, s.logger))
	} else {
		s.logger.Warn("JWT secret not configured, API authentication disabled")
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	handler := Chain(s.routes(), middlewares...)

	s.httpManager = server.NewManager("api", handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到收到信号或任一 HTTP 服务异常退出
func (s *Server) Wait(ctx context.Context) {
	var apiErrs, metricsErrs <-chan error
	if s.httpManager != nil {
		apiErrs = s.httpManager.Errors()
	}
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-apiErrs:
		s.logger.Error("API server failed", zap.Error(err))
	case err := <-metricsErrs:
		s.logger.Error("Metrics server failed", zap.Error(err))
	}
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	// 1. 停止接收新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 2. 停止后台任务
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	// 3. 关闭存储
	if s.registry != nil {
		if err := s.registry.Close(); err != nil {
			s.logger.Error("Handoff store close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}

	// 4. 刷新遥测数据
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return server.DefaultConfig().ShutdownTimeout
}
