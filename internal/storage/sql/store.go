package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
//
// 每次保存在一个事务内清空并重写整张表，与文件存储的整体覆盖语义一致。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建SQL数据库存储并执行迁移
//
// MySQL 的 DSN 需要带 parseTime=true，否则时间字段无法扫描。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	store, err := Open(driverName, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Open 打开数据库连接但不执行迁移
func Open(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}, nil
}

// Migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) Migrate() error {
	return s.gormDB.AutoMigrate(
		&masterKeyRow{},
		&subKeyRow{},
		&storeStateRow{},
	)
}

// DropTables 回滚迁移，删除全部表
func (s *Store) DropTables() error {
	return s.gormDB.Migrator().DropTable(
		&masterKeyRow{},
		&subKeyRow{},
		&storeStateRow{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// ========== 主密钥 ==========

// LoadMasterKeys 读取主密钥
func (s *Store) LoadMasterKeys() ([]string, error) {
	if err := s.checkInitialized(stateMasterKeys); err != nil {
		return nil, err
	}

	var rows []masterKeyRow
	if err := s.gormDB.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query master keys: %w", err)
	}

	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.MasterKey)
	}
	return keys, nil
}

// SaveMasterKeys 在事务中整体覆盖主密钥表
func (s *Store) SaveMasterKeys(keys []string) error {
	return s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&masterKeyRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear master keys: %w", err)
		}

		if len(keys) > 0 {
			rows := make([]masterKeyRow, 0, len(keys))
			for i, k := range keys {
				rows = append(rows, masterKeyRow{MasterKey: k, Position: i})
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("failed to insert master keys: %w", err)
			}
		}

		return markInitialized(tx, stateMasterKeys)
	})
}

// ========== 子密钥 ==========

// LoadSubKeys 读取子密钥快照
func (s *Store) LoadSubKeys() (map[string]domain.SubKey, error) {
	if err := s.checkInitialized(stateSubKeys); err != nil {
		return nil, err
	}

	var rows []subKeyRow
	if err := s.gormDB.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query sub keys: %w", err)
	}

	keys := make(map[string]domain.SubKey, len(rows))
	for _, r := range rows {
		keys[r.ID] = domain.SubKey{
			ID:          r.ID,
			Balance:     r.Balance,
			CreatedTime: r.CreatedTime,
			Description: r.Description,
			IsActive:    r.IsActive,
			UsedAmount:  r.UsedAmount,
			LastUsed:    r.LastUsed,
		}
	}
	return keys, nil
}

// SaveSubKeys 在事务中整体覆盖子密钥表
func (s *Store) SaveSubKeys(keys map[string]domain.SubKey) error {
	return s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&subKeyRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear sub keys: %w", err)
		}

		if len(keys) > 0 {
			rows := make([]subKeyRow, 0, len(keys))
			for id, k := range keys {
				rows = append(rows, subKeyRow{
					ID:          id,
					Balance:     k.Balance,
					CreatedTime: k.CreatedTime,
					Description: k.Description,
					IsActive:    k.IsActive,
					UsedAmount:  k.UsedAmount,
					LastUsed:    k.LastUsed,
				})
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("failed to insert sub keys: %w", err)
			}
		}

		return markInitialized(tx, stateSubKeys)
	})
}

func (s *Store) checkInitialized(name string) error {
	var state storeStateRow
	err := s.gormDB.Where("name = ?", name).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("failed to query store state: %w", err)
	}
	return nil
}

func markInitialized(tx *gorm.DB, name string) error {
	state := storeStateRow{Name: name, UpdatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&state).Error; err != nil {
		return fmt.Errorf("failed to update store state: %w", err)
	}
	return nil
}
