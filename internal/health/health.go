package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/logger"
)

// StatusHealthy 健康状态值
const StatusHealthy = "healthy"

// Ledger 健康检查需要的账本能力
type Ledger interface {
	Count() int
	Health() error
}

// Registry 健康检查需要的主密钥注册表能力
type Registry interface {
	Count() int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health   healthcheck.Handler
	ledger   Ledger
	registry Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewHealthChecker 创建健康检查器
//
// 存活检查只关心进程本身；就绪检查要求存储可用。
func NewHealthChecker(ledger Ledger, registry Registry, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		ledger:   ledger,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("storage", healthcheck.Timeout(hc.ledger.Health, 5*time.Second))

	return hc
}

// AddReadinessCheck 追加就绪检查，例如数据库或 Redis 连接
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// Status 返回 /health 的响应体
//
// 与就绪检查不同，这里总是返回 healthy，只报告计数。
func (hc *HealthChecker) Status() domain.HealthStatus {
	return domain.HealthStatus{
		Status:          StatusHealthy,
		Service:         logger.ServiceName,
		TotalKeys:       hc.ledger.Count(),
		MasterKeysCount: hc.registry.Count(),
		Timestamp:       hc.now().UTC(),
	}
}

// PingCheck 将带 context 的 Ping 包装为健康检查
func PingCheck(ping func(ctx context.Context) error) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ping(ctx)
	}
}
