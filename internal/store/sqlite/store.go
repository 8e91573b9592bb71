package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tradedesk/internal/store"
	"tradedesk/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db *gorm.DB
}

var _ store.Store = (*SqliteStore)(nil)

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// 写事务以 IMMEDIATE 开启，避免两个连接同时升级写锁时直接返回 SQLITE_BUSY。
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=1", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}

	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.AccountModel{},
		&model.OrderModel{},
		&model.CommissionModel{},
		&model.OrderCommissionModel{},
		&model.TransactionModel{},
		&model.StreamCursorModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

// DB 暴露底层连接，仅供测试与运维脚本使用。
func (s *SqliteStore) DB() *gorm.DB { return s.db }

func (s *SqliteStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *SqliteStore) Orders() store.OrderRepository { return NewOrderRepo(s.db) }

func (s *SqliteStore) Transactions() store.TransactionRepository {
	return NewTransactionRepo(s.db)
}

func (s *SqliteStore) OrderCommissions() store.OrderCommissionRepository {
	return NewOrderCommissionRepo(s.db)
}

func (s *SqliteStore) Accounts() store.AccountRepository { return NewAccountRepo(s.db) }

func (s *SqliteStore) Commissions() store.CommissionRepository { return NewCommissionRepo(s.db) }

func (s *SqliteStore) Cursors() store.CursorRepository { return NewCursorRepo(s.db) }

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Orders() store.OrderRepository {
	return NewOrderRepo(u.tx)
}

func (u *gormUnitOfWork) Transactions() store.TransactionRepository {
	return NewTransactionRepo(u.tx)
}

func (u *gormUnitOfWork) OrderCommissions() store.OrderCommissionRepository {
	return NewOrderCommissionRepo(u.tx)
}

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}
