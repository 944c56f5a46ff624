package service

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
)

// MasterKeyOptions 主密钥注册表选项
type MasterKeyOptions struct {
	// AllowPlaceholder 为 true 时占位主密钥也能通过校验，仅用于开发环境
	AllowPlaceholder bool
}

// MasterKeyRegistry 管理主密钥集合。
//
// 集合以插入顺序持久化，校验只做精确匹配。
type MasterKeyRegistry struct {
	mu    sync.RWMutex
	repo  storage.MasterKeyRepository
	opts  MasterKeyOptions
	log   *zap.Logger
	keys  map[string]struct{}
	order []string
}

// NewMasterKeyRegistry 创建主密钥注册表，调用方需要随后执行 Load。
func NewMasterKeyRegistry(repo storage.MasterKeyRepository, opts MasterKeyOptions, log *zap.Logger) *MasterKeyRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &MasterKeyRegistry{
		repo: repo,
		opts: opts,
		log:  log,
		keys: make(map[string]struct{}),
	}
}

// Load 从存储读取主密钥集合。
//
// 存储不存在时写入占位主密钥并告警；读取失败时记录错误并保持空集合，
// 此时所有管理操作都会鉴权失败。
func (r *MasterKeyRegistry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.repo.LoadMasterKeys()
	switch {
	case errors.Is(err, storage.ErrNotExist):
		r.reset([]string{domain.PlaceholderMasterKey})
		if err := r.repo.SaveMasterKeys(r.snapshot()); err != nil {
			r.log.Error("failed to persist placeholder master key", zap.Error(err))
		}
		r.log.Warn("master key store not found, created placeholder master key; replace it before production use")
	case err != nil:
		r.reset(nil)
		r.log.Error("failed to load master keys", zap.Error(err))
	default:
		r.reset(keys)
		r.log.Info("master keys loaded", zap.Int("count", len(r.order)))
	}
}

// Validate 判断候选值是否为有效主密钥。
func (r *MasterKeyRegistry) Validate(candidate string) bool {
	if candidate == "" {
		return false
	}
	if candidate == domain.PlaceholderMasterKey && !r.opts.AllowPlaceholder {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[candidate]
	return ok
}

// Add 添加主密钥，返回存储是否发生变化。
//
// 持久化失败时内存集合回滚到添加前的状态。
func (r *MasterKeyRegistry) Add(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[key]; exists {
		return false
	}

	r.keys[key] = struct{}{}
	r.order = append(r.order, key)

	if err := r.repo.SaveMasterKeys(r.snapshot()); err != nil {
		delete(r.keys, key)
		r.order = r.order[:len(r.order)-1]
		r.log.Error("failed to persist master keys after add", zap.Error(err))
		return false
	}

	r.log.Info("master key added", zap.Int("count", len(r.order)))
	return true
}

// Remove 删除主密钥，返回存储是否发生变化。
func (r *MasterKeyRegistry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[key]; !exists {
		return false
	}

	previous := r.order
	next := make([]string, 0, len(previous)-1)
	for _, k := range previous {
		if k != key {
			next = append(next, k)
		}
	}

	if err := r.repo.SaveMasterKeys(next); err != nil {
		r.log.Error("failed to persist master keys after remove", zap.Error(err))
		return false
	}

	delete(r.keys, key)
	r.order = next

	r.log.Info("master key removed", zap.Int("count", len(r.order)))
	return true
}

// Contains 判断主密钥是否在集合中，不做占位符过滤
func (r *MasterKeyRegistry) Contains(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[key]
	return ok
}

// Count 返回主密钥数量
func (r *MasterKeyRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// HasPlaceholder 判断占位主密钥是否仍在集合中
func (r *MasterKeyRegistry) HasPlaceholder() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[domain.PlaceholderMasterKey]
	return ok
}

func (r *MasterKeyRegistry) reset(keys []string) {
	r.keys = make(map[string]struct{}, len(keys))
	r.order = make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := r.keys[k]; dup {
			continue
		}
		r.keys[k] = struct{}{}
		r.order = append(r.order, k)
	}
}

func (r *MasterKeyRegistry) snapshot() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
