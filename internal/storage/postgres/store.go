package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/money"
	"keyledger/backend/internal/storage"
)

const opTimeout = 5 * time.Second

// schema 与 SQL 存储使用相同的表名，两种后端可以指向同一个库
const schema = `
CREATE TABLE IF NOT EXISTS kms_master_keys (
	master_key VARCHAR(255) PRIMARY KEY,
	position   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS kms_sub_keys (
	id           VARCHAR(64) PRIMARY KEY,
	balance      NUMERIC(20,2) NOT NULL,
	created_time TIMESTAMPTZ NOT NULL,
	description  TEXT,
	is_active    BOOLEAN NOT NULL,
	used_amount  NUMERIC(20,2) NOT NULL,
	last_used    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS kms_store_state (
	name       VARCHAR(64) PRIMARY KEY,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const (
	stateMasterKeys = "master_keys"
	stateSubKeys    = "sub_keys"
)

// Store 基于 pgx 连接池的原生 PostgreSQL 存储
//
// 金额列以文本形式收发，避免经过浮点转换。
type Store struct {
	client *Client
}

// NewStore 创建存储并确保表结构存在
func NewStore(client *Client) (*Store, error) {
	s := &Store{client: client}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Migrate 创建表结构
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.client.Pool().Exec(ctx, schema)
	return err
}

// DropTables 删除全部表
func (s *Store) DropTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.client.Pool().Exec(ctx, `DROP TABLE IF EXISTS kms_sub_keys, kms_master_keys, kms_store_state`)
	return err
}

// Health 检查连接池
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// LoadMasterKeys 读取主密钥
func (s *Store) LoadMasterKeys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.checkInitialized(ctx, stateMasterKeys); err != nil {
		return nil, err
	}

	rows, err := s.client.Pool().Query(ctx, `SELECT master_key FROM kms_master_keys ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query master keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan master keys: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// SaveMasterKeys 在事务中整体覆盖主密钥表
func (s *Store) SaveMasterKeys(keys []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return pgx.BeginFunc(ctx, s.client.Pool(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM kms_master_keys`)
		for i, k := range keys {
			batch.Queue(`INSERT INTO kms_master_keys (master_key, position) VALUES ($1, $2)`, k, i)
		}
		queueMarkInitialized(batch, stateMasterKeys)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save master keys: %w", err)
		}
		return nil
	})
}

// LoadSubKeys 读取子密钥快照
func (s *Store) LoadSubKeys() (map[string]domain.SubKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.checkInitialized(ctx, stateSubKeys); err != nil {
		return nil, err
	}

	rows, err := s.client.Pool().Query(ctx, `
		SELECT id, balance::text, created_time, COALESCE(description, ''), is_active, used_amount::text, last_used
		FROM kms_sub_keys`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]domain.SubKey)
	for rows.Next() {
		var (
			k                  domain.SubKey
			balance, usedTotal string
		)
		if err := rows.Scan(&k.ID, &balance, &k.CreatedTime, &k.Description, &k.IsActive, &usedTotal, &k.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan sub key: %w", err)
		}
		if k.Balance, err = money.Parse(balance); err != nil {
			return nil, fmt.Errorf("sub key %s: %w", k.ID, err)
		}
		if k.UsedAmount, err = money.Parse(usedTotal); err != nil {
			return nil, fmt.Errorf("sub key %s: %w", k.ID, err)
		}
		keys[k.ID] = k
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sub keys: %w", err)
	}
	return keys, nil
}

// SaveSubKeys 在事务中整体覆盖子密钥表
func (s *Store) SaveSubKeys(keys map[string]domain.SubKey) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return pgx.BeginFunc(ctx, s.client.Pool(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM kms_sub_keys`)
		for id, k := range keys {
			batch.Queue(`
				INSERT INTO kms_sub_keys (id, balance, created_time, description, is_active, used_amount, last_used)
				VALUES ($1, $2::numeric, $3, $4, $5, $6::numeric, $7)`,
				id, k.Balance.String(), k.CreatedTime, k.Description, k.IsActive, k.UsedAmount.String(), k.LastUsed,
			)
		}
		queueMarkInitialized(batch, stateSubKeys)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save sub keys: %w", err)
		}
		return nil
	})
}

func (s *Store) checkInitialized(ctx context.Context, name string) error {
	var updatedAt time.Time
	err := s.client.Pool().QueryRow(ctx, `SELECT updated_at FROM kms_store_state WHERE name = $1`, name).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("failed to query store state: %w", err)
	}
	return nil
}

func queueMarkInitialized(batch *pgx.Batch, name string) {
	batch.Queue(`
		INSERT INTO kms_store_state (name, updated_at) VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at`, name)
}
