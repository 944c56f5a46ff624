package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"keyledger/backend/internal/config"
	"keyledger/backend/internal/health"
	"keyledger/backend/internal/logger"
	"keyledger/backend/internal/middleware"
	"keyledger/backend/internal/monitoring"
	"keyledger/backend/internal/pool"
	"keyledger/backend/internal/service"
	httptransport "keyledger/backend/internal/transport/http"
)

// main 启动密钥管理 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting key management server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	// 初始化存储层
	backend, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := backend.store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化监控系统
	metrics := monitoring.NewMetrics(nil)

	// 主密钥注册表；开发模式允许占位主密钥
	registry := service.NewMasterKeyRegistry(backend.store, service.MasterKeyOptions{
		AllowPlaceholder: cfg.Log.Development,
	}, log)
	registry.Load()
	if registry.HasPlaceholder() {
		log.Warn("placeholder master key is configured, replace it before production use",
			zap.Bool("accepted", cfg.Log.Development),
		)
	}

	// 子密钥账本
	ledger, err := service.NewLedger(backend.store, log,
		service.WithPersistFailureHook(metrics.RecordPersistFailure),
	)
	if err != nil {
		log.Fatal("failed to load sub-key ledger", zap.Error(err))
	}
	metrics.UpdateKeyCounts(ledger.Count(), registry.Count(), registry.HasPlaceholder())
	log.Info("ledger loaded",
		zap.Int("sub_keys", ledger.Count()),
		zap.Int("master_keys", registry.Count()),
	)

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(ledger, registry, log)
	for name, check := range backend.readiness {
		healthChecker.AddReadinessCheck(name, check)
	}

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertWorkers := pool.NewWorkerPool(2, 64, log)
	if cfg.Alert.WebhookURL != "" {
		alertManager.AddReceiver(monitoring.NewWebhookAlertReceiver(cfg.Alert.WebhookURL, log))
		alertManager.UseWorkerPool(alertWorkers)
	}
	alertManager.AddRule(monitoring.HighMemoryUsageRule(cfg.Alert.MemoryThresholdMB))
	alertManager.AddRule(monitoring.StorageHealthRule(ledger.Health))
	alertManager.AddRule(monitoring.PersistFailureRule(ledger.ReconciliationHazards))
	alertManager.AddRule(monitoring.PlaceholderMasterKeyRule(registry.HasPlaceholder))

	// 客户端接口限流（可选）
	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, metrics.RecordRateLimitBlock, log)
		log.Info("client rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Ledger:        ledger,
		Registry:      registry,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		RateLimiter:   limiter,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	alertWorkers.Start(context.Background())

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 告警巡检 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring", zap.Duration("interval", cfg.Alert.Interval))
		alertManager.StartMonitoring(groupCtx, cfg.Alert.Interval)
		return nil
	})

	// 限流器空闲客户端清理 goroutine
	if limiter != nil {
		group.Go(func() error {
			return limiter.Run(groupCtx, time.Minute)
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		alertWorkers.Stop()

		if n := ledger.ReconciliationHazards(); n > 0 {
			log.Warn("ledger has unpersisted changes, reconcile storage before restart",
				zap.Int64("persist_failures", n),
			)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}
