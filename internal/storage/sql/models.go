package sql

import (
	"time"

	"keyledger/backend/internal/money"
)

// masterKeyRow 主密钥表
type masterKeyRow struct {
	MasterKey string `gorm:"column:master_key;primaryKey;type:varchar(255)"`
	Position  int    `gorm:"column:position;not null"` // 保持写入顺序
}

func (masterKeyRow) TableName() string { return "kms_master_keys" }

// subKeyRow 子密钥表
type subKeyRow struct {
	ID          string       `gorm:"column:id;primaryKey;type:varchar(64)"`
	Balance     money.Amount `gorm:"column:balance;type:decimal(20,2);not null"`
	CreatedTime time.Time    `gorm:"column:created_time;not null"`
	Description string       `gorm:"column:description;type:text"`
	IsActive    bool         `gorm:"column:is_active;not null"`
	UsedAmount  money.Amount `gorm:"column:used_amount;type:decimal(20,2);not null"`
	LastUsed    *time.Time   `gorm:"column:last_used"`
}

func (subKeyRow) TableName() string { return "kms_sub_keys" }

// storeStateRow 记录某类存储是否已初始化，用于区分"空集合"与"从未写入"
type storeStateRow struct {
	Name      string    `gorm:"column:name;primaryKey;type:varchar(64)"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (storeStateRow) TableName() string { return "kms_store_state" }

const (
	stateMasterKeys = "master_keys"
	stateSubKeys    = "sub_keys"
)
