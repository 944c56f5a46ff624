package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kms"

// Metrics 监控指标
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 账本指标
	BalanceChanges   *prometheus.CounterVec // 按 action/result 统计扣费与退款
	AmountProcessed  *prometheus.CounterVec // 按 action 统计金额
	SubKeysCreated   prometheus.Counter
	SubKeysDeleted   prometheus.Counter
	SubKeysTotal     prometheus.Gauge
	MasterKeysTotal  prometheus.Gauge
	PersistFailures  *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	PlaceholderInUse prometheus.Gauge

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标并注册到 reg
//
// reg 为 nil 时使用默认注册表。测试中传入独立的 prometheus.NewRegistry()
// 以免重复注册。
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		BalanceChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_changes_total",
				Help:      "Deduct and refund attempts by outcome",
			},
			[]string{"action", "result"},
		),

		AmountProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "amount_processed_total",
				Help:      "Absolute amount moved by successful deducts and refunds",
			},
			[]string{"action"},
		),

		SubKeysCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sub_keys_created_total",
				Help:      "Total number of sub keys created",
			},
		),

		SubKeysDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sub_keys_deleted_total",
				Help:      "Total number of sub keys deleted",
			},
		),

		SubKeysTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sub_keys",
				Help:      "Number of sub keys in the ledger",
			},
		),

		MasterKeysTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "master_keys",
				Help:      "Number of registered master keys",
			},
		),

		PersistFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Writes applied in memory but not persisted",
			},
			[]string{"operation"},
		),

		AuthFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected master key presentations",
			},
		),

		PlaceholderInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "placeholder_master_key_present",
				Help:      "1 when the default placeholder master key is still registered",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_uptime_seconds",
				Help:      "System uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Memory usage in bytes",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"endpoint"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordBalanceChange 记录一次扣费或退款
//
// 成功时 amount 计入金额统计（取绝对值）。
func (m *Metrics) RecordBalanceChange(action, result string, amount float64) {
	m.BalanceChanges.WithLabelValues(action, result).Inc()
	if result == "success" {
		if amount < 0 {
			amount = -amount
		}
		m.AmountProcessed.WithLabelValues(action).Add(amount)
	}
}

// RecordSubKeyCreated 记录子密钥创建
func (m *Metrics) RecordSubKeyCreated() {
	m.SubKeysCreated.Inc()
}

// RecordSubKeyDeleted 记录子密钥删除
func (m *Metrics) RecordSubKeyDeleted() {
	m.SubKeysDeleted.Inc()
}

// RecordPersistFailure 记录持久化失败
func (m *Metrics) RecordPersistFailure(operation string) {
	m.PersistFailures.WithLabelValues(operation).Inc()
}

// RecordAuthFailure 记录主密钥鉴权失败
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// UpdateKeyCounts 更新主密钥与子密钥数量
func (m *Metrics) UpdateKeyCounts(subKeys, masterKeys int, placeholder bool) {
	m.SubKeysTotal.Set(float64(subKeys))
	m.MasterKeysTotal.Set(float64(masterKeys))
	if placeholder {
		m.PlaceholderInUse.Set(1)
	} else {
		m.PlaceholderInUse.Set(0)
	}
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	m.MemoryUsage.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
