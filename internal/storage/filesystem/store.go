package filesystem

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
)

// Store 文件系统存储实现
//
// 主密钥与子密钥分别保存在两个 JSON 文件中，每次写入都整体替换：
// 先写同目录临时文件并 fsync，再 rename 覆盖目标文件，避免崩溃时留下半截文件。
type Store struct {
	masterKeysPath string
	subKeysPath    string
	platformUtils  *PlatformUtils

	mu sync.Mutex // 串行化同一进程内的文件替换
}

// NewStore 创建文件系统存储实例
//
// 参数:
//   - masterKeysPath: 主密钥文件路径，如 "./data/master_keys.json"
//   - subKeysPath: 子密钥文件路径，如 "./data/keys.json"
func NewStore(masterKeysPath, subKeysPath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	for _, p := range []string{masterKeysPath, subKeysPath} {
		if err := platformUtils.ValidatePath(p); err != nil {
			return nil, fmt.Errorf("invalid store path: %w", err)
		}
	}

	masterKeysPath = platformUtils.NormalizePath(masterKeysPath)
	subKeysPath = platformUtils.NormalizePath(subKeysPath)
	if masterKeysPath == subKeysPath {
		return nil, fmt.Errorf("master key store and sub key store must be different files")
	}

	// 确保目录存在
	for _, p := range []string{masterKeysPath, subKeysPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &Store{
		masterKeysPath: masterKeysPath,
		subKeysPath:    subKeysPath,
		platformUtils:  platformUtils,
	}, nil
}

// ========== 主密钥 ==========

// LoadMasterKeys 读取主密钥文件
func (s *Store) LoadMasterKeys() ([]string, error) {
	data, err := os.ReadFile(s.masterKeysPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read master keys: %w", err)
	}

	var file domain.MasterKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal master keys: %w", err)
	}
	if file.MasterKeys == nil {
		file.MasterKeys = []string{}
	}
	return file.MasterKeys, nil
}

// SaveMasterKeys 整体覆盖写入主密钥文件
func (s *Store) SaveMasterKeys(keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.MarshalIndent(domain.MasterKeyFile{MasterKeys: keys}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal master keys: %w", err)
	}
	return s.replaceFile(s.masterKeysPath, data)
}

// ========== 子密钥 ==========

// LoadSubKeys 读取子密钥文件
func (s *Store) LoadSubKeys() (map[string]domain.SubKey, error) {
	data, err := os.ReadFile(s.subKeysPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read sub keys: %w", err)
	}

	keys := make(map[string]domain.SubKey)
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sub keys: %w", err)
	}
	for id, k := range keys {
		k.ID = id
		keys[id] = k
	}
	return keys, nil
}

// SaveSubKeys 整体覆盖写入子密钥文件
func (s *Store) SaveSubKeys(keys map[string]domain.SubKey) error {
	if keys == nil {
		keys = map[string]domain.SubKey{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sub keys: %w", err)
	}
	return s.replaceFile(s.subKeysPath, data)
}

// Health 检查存储目录是否可访问
func (s *Store) Health() error {
	for _, p := range []string{s.masterKeysPath, s.subKeysPath} {
		info, err := os.Stat(filepath.Dir(p))
		if err != nil {
			return fmt.Errorf("store directory unavailable: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path parent is not a directory: %s", filepath.Dir(p))
		}
	}
	return nil
}

// Close 文件存储无需释放资源
func (s *Store) Close() error { return nil }

// MasterKeysPath 返回主密钥文件路径
func (s *Store) MasterKeysPath() string { return s.masterKeysPath }

// SubKeysPath 返回子密钥文件路径
func (s *Store) SubKeysPath() string { return s.subKeysPath }

// replaceFile 原子替换目标文件：临时文件 -> fsync -> rename -> fsync 目录
func (s *Store) replaceFile(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// 任何一步失败都清理临时文件
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	committed = true

	// 目录 fsync 在部分平台不支持，失败时忽略
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}
