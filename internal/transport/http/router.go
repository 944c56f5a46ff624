package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyledger/backend/internal/config"
	"keyledger/backend/internal/health"
	"keyledger/backend/internal/middleware"
	"keyledger/backend/internal/monitoring"
	"keyledger/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Ledger        *service.Ledger
	Registry      *service.MasterKeyRegistry
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	RateLimiter   *middleware.IPRateLimiter // 为 nil 时客户端接口不限流
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)

	router.Use(middleware.RecoveryHandler(log, deps.Metrics.RecordPanic))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.BodyLimit))
	router.Use(monitor.HTTPMetrics())
	router.Use(monitor.SystemMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderMasterKey},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		ledger:   deps.Ledger,
		registry: deps.Registry,
		health:   deps.HealthChecker,
		metrics:  deps.Metrics,
		log:      log,
	}

	masterKeyAuth := middleware.NewMasterKeyAuth(deps.Registry, deps.Metrics.RecordAuthFailure, log)

	// 健康检查与指标
	router.GET("/health", handler.healthStatus)
	router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	api := router.Group("/api")

	// 客户端接口：以子密钥本身作为凭证
	client := api.Group("")
	if deps.RateLimiter != nil {
		client.Use(deps.RateLimiter.Limit())
	}
	client.POST("/validate_and_deduct", handler.validateAndDeduct)
	client.POST("/get_balance", handler.getBalance)

	// 管理接口：要求主密钥
	admin := api.Group("", masterKeyAuth.RequireMasterKey())
	admin.POST("/create_key", handler.createKey)
	admin.POST("/list_keys", handler.listKeys)
	admin.POST("/update_balance", handler.updateBalance)
	admin.POST("/delete_key", handler.deleteKey)
	admin.POST("/activate_key", handler.activateKey)
	admin.POST("/deactivate_key", handler.deactivateKey)
	admin.POST("/master_keys/list", handler.listMasterKeys)
	admin.POST("/master_keys/add", handler.addMasterKey)
	admin.POST("/master_keys/remove", handler.removeMasterKey)

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, ErrorCode("NOT_FOUND"), "接口不存在")
	})
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		Fail(c, http.StatusMethodNotAllowed, ErrorCode("METHOD_NOT_ALLOWED"), "请求方法不被允许")
	})

	return router
}
