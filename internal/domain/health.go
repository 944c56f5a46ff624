package domain

import "time"

// HealthStatus 服务健康状态快照
type HealthStatus struct {
	Status          string    `json:"status"`
	Service         string    `json:"service"`
	TotalKeys       int       `json:"total_keys"`
	MasterKeysCount int       `json:"master_keys_count"`
	Timestamp       time.Time `json:"timestamp"`
}
