package storage

import (
	"errors"

	"keyledger/backend/internal/domain"
)

var (
	// ErrNotExist 存储尚未初始化（文件不存在、键不存在等）
	ErrNotExist = errors.New("store does not exist")
)

// MasterKeyRepository 定义主密钥集合的存取操作。
//
// 每次保存都是整体覆盖写入。
type MasterKeyRepository interface {
	LoadMasterKeys() ([]string, error) // 存储不存在时返回 ErrNotExist
	SaveMasterKeys(keys []string) error
}

// SubKeyRepository 定义子密钥账本的存取操作。
//
// 每次保存都是整体覆盖写入，没有增量日志。
type SubKeyRepository interface {
	LoadSubKeys() (map[string]domain.SubKey, error) // 存储不存在时返回 ErrNotExist
	SaveSubKeys(keys map[string]domain.SubKey) error
}

// Store 聚合两类存储以及健康检查
type Store interface {
	MasterKeyRepository
	SubKeyRepository
	Health() error
	Close() error
}
