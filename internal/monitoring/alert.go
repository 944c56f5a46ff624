package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"keyledger/backend/internal/pool"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Level      AlertLevel             `json:"level"`
	Component  string                 `json:"component"`
	Timestamp  time.Time              `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AlertRule 告警规则
type AlertRule struct {
	ID            string
	Name          string
	Condition     func() bool
	Level         AlertLevel
	Component     string
	Message       string
	Cooldown      time.Duration
	LastTriggered time.Time
}

// maxResolvedAlerts 保留的已解决告警条数，超出后丢弃最旧的
const maxResolvedAlerts = 100

// AlertManager 告警管理器
//
// alerts 只保存未解决告警，规则产生的告警以规则 ID 为键；已解决告警移入 resolved。
type AlertManager struct {
	alerts    map[string]*Alert
	resolved  []*Alert
	rules     []AlertRule
	receivers []AlertReceiver
	logger    *zap.Logger
	workers   *pool.WorkerPool
	mu        sync.RWMutex
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	return &AlertManager{
		alerts:    make(map[string]*Alert),
		rules:     make([]AlertRule, 0),
		receivers: make([]AlertReceiver, 0),
		logger:    logger,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// UseWorkerPool 告警投递改为在协程池中异步执行，队列满时丢弃并记录
func (am *AlertManager) UseWorkerPool(workers *pool.WorkerPool) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.workers = workers
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// TriggerAlert 触发告警
func (am *AlertManager) TriggerAlert(alert *Alert) {
	am.mu.Lock()
	defer am.mu.Unlock()

	// 检查是否已存在相同的告警
	if _, exists := am.alerts[alert.ID]; exists {
		am.logger.Debug("Alert already exists and not resolved",
			zap.String("alert_id", alert.ID),
		)
		return
	}

	am.alerts[alert.ID] = alert

	// 发送告警
	for _, receiver := range am.receivers {
		am.deliver(receiver, alert)
	}

	am.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("component", alert.Component),
	)
}

func (am *AlertManager) deliver(receiver AlertReceiver, alert *Alert) {
	send := func() {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("Failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}

	if am.workers == nil {
		send()
		return
	}

	snapshot := *alert
	alert = &snapshot
	if !am.workers.TrySubmit(send) {
		am.logger.Warn("alert delivery queue full, dropping",
			zap.String("alert_id", alert.ID),
		)
	}
}

// ResolveAlert 解决告警
func (am *AlertManager) ResolveAlert(alertID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.alerts[alertID]
	if !exists {
		return
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(am.alerts, alertID)

	am.resolved = append(am.resolved, alert)
	if n := len(am.resolved) - maxResolvedAlerts; n > 0 {
		am.resolved = append(am.resolved[:0:0], am.resolved[n:]...)
	}

	am.logger.Info("Alert resolved",
		zap.String("alert_id", alertID),
	)
}

// GetAlerts 获取告警列表，包含未解决告警和最近的已解决告警
func (am *AlertManager) GetAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0, len(am.alerts)+len(am.resolved))
	for _, alert := range am.alerts {
		alerts = append(alerts, *alert)
	}
	for _, alert := range am.resolved {
		alerts = append(alerts, *alert)
	}

	return alerts
}

// GetActiveAlerts 获取活跃告警
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		alerts = append(alerts, *alert)
	}

	return alerts
}

// CheckRules 检查告警规则
//
// 条件成立时以规则 ID 触发告警，条件不再成立时解决该告警。
func (am *AlertManager) CheckRules() {
	am.mu.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.RUnlock()

	for _, rule := range rules {
		// 检查冷却时间
		if time.Since(rule.LastTriggered) < rule.Cooldown {
			continue
		}

		if !rule.Condition() {
			am.ResolveAlert(rule.ID)
			continue
		}

		alert := &Alert{
			ID:        rule.ID,
			Title:     rule.Name,
			Message:   rule.Message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: time.Now(),
			Resolved:  false,
		}

		am.TriggerAlert(alert)

		// 更新最后触发时间
		am.mu.Lock()
		for i, r := range am.rules {
			if r.ID == rule.ID {
				am.rules[i].LastTriggered = time.Now()
				break
			}
		}
		am.mu.Unlock()
	}
}

// StartMonitoring 启动监控
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// ========== 内置告警规则 ==========

// HighMemoryUsageRule 高内存使用告警规则
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			memoryUsageMB := float64(m.Alloc) / 1024 / 1024
			return memoryUsageMB > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("Memory usage exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// StorageHealthRule 存储不可用告警规则
func StorageHealthRule(check func() error) AlertRule {
	return AlertRule{
		ID:   "storage_health",
		Name: "Storage Unavailable",
		Condition: func() bool {
			return check() != nil
		},
		Level:     AlertLevelCritical,
		Component: "storage",
		Message:   "Key store health check failed",
		Cooldown:  1 * time.Minute,
	}
}

// PersistFailureRule 持久化失败告警规则
//
// hazards 返回累计的持久化失败次数，自上次检查以来有增长即触发。
// 此类失败意味着内存余额与存储不一致，需要人工对账。
func PersistFailureRule(hazards func() int64) AlertRule {
	var seen atomic.Int64
	return AlertRule{
		ID:   "persist_failure",
		Name: "Ledger Persist Failure",
		Condition: func() bool {
			current := hazards()
			return seen.Swap(current) < current
		},
		Level:     AlertLevelCritical,
		Component: "ledger",
		Message:   "Ledger writes were applied in memory but not persisted; reconcile the key store",
		Cooldown:  0,
	}
}

// PlaceholderMasterKeyRule 占位主密钥仍在使用的告警规则
func PlaceholderMasterKeyRule(hasPlaceholder func() bool) AlertRule {
	return AlertRule{
		ID:        "placeholder_master_key",
		Name:      "Placeholder Master Key",
		Condition: hasPlaceholder,
		Level:     AlertLevelWarning,
		Component: "master_keys",
		Message:   "The default placeholder master key is still registered; replace it",
		Cooldown:  1 * time.Hour,
	}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT",
			zap.String("alert_id", alert.ID),
			zap.String("title", alert.Title),
			zap.String("message", alert.Message),
			zap.String("component", alert.Component),
			zap.Time("timestamp", alert.Timestamp),
		)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT",
			zap.String("alert_id", alert.ID),
			zap.String("title", alert.Title),
			zap.String("message", alert.Message),
			zap.String("component", alert.Component),
			zap.Time("timestamp", alert.Timestamp),
		)
	case AlertLevelInfo:
		lar.logger.Info("INFO ALERT",
			zap.String("alert_id", alert.ID),
			zap.String("title", alert.Title),
			zap.String("message", alert.Message),
			zap.String("component", alert.Component),
			zap.Time("timestamp", alert.Timestamp),
		)
	}

	return nil
}

// WebhookAlertReceiver Webhook 告警接收器
type WebhookAlertReceiver struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookAlertReceiver 创建 Webhook 告警接收器
func NewWebhookAlertReceiver(url string, logger *zap.Logger) *WebhookAlertReceiver {
	return &WebhookAlertReceiver{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// SendAlert 以 JSON 形式 POST 告警到 Webhook
func (war *WebhookAlertReceiver) SendAlert(alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, war.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "KMS-Alert/1.0")

	resp, err := war.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	war.logger.Debug("Alert sent to webhook",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
	)
	return nil
}
