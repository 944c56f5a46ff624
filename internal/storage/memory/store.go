package memory

import (
	"sync"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
)

// Store 使用内存保存主密钥与子密钥快照，主要用于开发验证和测试。
//
// 进程退出后数据丢失。
type Store struct {
	mu         sync.RWMutex
	masterKeys []string                 // nil 表示尚未写入
	subKeys    map[string]domain.SubKey // nil 表示尚未写入
}

// NewStore 创建一个空的内存存储实例。
func NewStore() *Store {
	return &Store{}
}

// NewStoreWithMasterKeys 创建预置主密钥的内存存储
func NewStoreWithMasterKeys(keys ...string) *Store {
	s := &Store{}
	s.masterKeys = append([]string{}, keys...)
	return s
}

// LoadMasterKeys 读取主密钥
func (s *Store) LoadMasterKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.masterKeys == nil {
		return nil, storage.ErrNotExist
	}
	return append([]string{}, s.masterKeys...), nil
}

// SaveMasterKeys 覆盖写入主密钥
func (s *Store) SaveMasterKeys(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.masterKeys = append([]string{}, keys...)
	return nil
}

// LoadSubKeys 读取子密钥快照
func (s *Store) LoadSubKeys() (map[string]domain.SubKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subKeys == nil {
		return nil, storage.ErrNotExist
	}
	return cloneSubKeys(s.subKeys), nil
}

// SaveSubKeys 覆盖写入子密钥快照
func (s *Store) SaveSubKeys(keys map[string]domain.SubKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subKeys = cloneSubKeys(keys)
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

func cloneSubKeys(in map[string]domain.SubKey) map[string]domain.SubKey {
	out := make(map[string]domain.SubKey, len(in))
	for id, k := range in {
		c := k.Clone()
		c.ID = id
		out[id] = c
	}
	return out
}
