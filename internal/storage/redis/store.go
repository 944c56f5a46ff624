package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
)

const opTimeout = 3 * time.Second

// Store Redis 存储实现
//
// 主密钥与子密钥各占一个键，值为与文件存储相同格式的 JSON 文本；
// 每次写入用 SET 整体覆盖，单键写入天然原子。
type Store struct {
	client        *Client
	masterKeysKey string
	subKeysKey    string
}

// NewStore 基于已连接的客户端创建存储
//
// 参数:
//   - client: Redis 客户端
//   - keyPrefix: 键前缀，如 "kms:"
func NewStore(client *Client, keyPrefix string) *Store {
	return &Store{
		client:        client,
		masterKeysKey: keyPrefix + "master_keys",
		subKeysKey:    keyPrefix + "sub_keys",
	}
}

// LoadMasterKeys 读取主密钥
func (s *Store) LoadMasterKeys() ([]string, error) {
	data, err := s.get(s.masterKeysKey)
	if err != nil {
		return nil, err
	}
	return decodeMasterKeys(data)
}

// SaveMasterKeys 覆盖写入主密钥
func (s *Store) SaveMasterKeys(keys []string) error {
	data, err := encodeMasterKeys(keys)
	if err != nil {
		return err
	}
	return s.set(s.masterKeysKey, data)
}

// LoadSubKeys 读取子密钥快照
func (s *Store) LoadSubKeys() (map[string]domain.SubKey, error) {
	data, err := s.get(s.subKeysKey)
	if err != nil {
		return nil, err
	}
	return decodeSubKeys(data)
}

// SaveSubKeys 覆盖写入子密钥快照
func (s *Store) SaveSubKeys(keys map[string]domain.SubKey) error {
	data, err := encodeSubKeys(keys)
	if err != nil {
		return err
	}
	return s.set(s.subKeysKey, data)
}

// Health 检查 Redis 连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Ping(ctx)
}

// Close 关闭底层连接
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Client().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) set(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Client().Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func encodeMasterKeys(keys []string) ([]byte, error) {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.MarshalIndent(domain.MasterKeyFile{MasterKeys: keys}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal master keys: %w", err)
	}
	return data, nil
}

func decodeMasterKeys(data []byte) ([]string, error) {
	var file domain.MasterKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal master keys: %w", err)
	}
	if file.MasterKeys == nil {
		file.MasterKeys = []string{}
	}
	return file.MasterKeys, nil
}

func encodeSubKeys(keys map[string]domain.SubKey) ([]byte, error) {
	if keys == nil {
		keys = map[string]domain.SubKey{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sub keys: %w", err)
	}
	return data, nil
}

func decodeSubKeys(data []byte) (map[string]domain.SubKey, error) {
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
