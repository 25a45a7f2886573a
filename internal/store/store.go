// Package store 封装基于 GORM 的数据访问。所有按 ID 的读写都带上所属用户条件，
// 他人的记录与不存在的记录一样返回 ErrNotFound。
package store

import (
	"errors"
	"fmt"

	"produse/internal/config"
	"produse/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound 记录不存在或不属于当前用户。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束。
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict 记录状态已被并发修改或不允许当前操作。
	ErrConflict = errors.New("record state conflict")
)

// Open 按配置打开数据库连接并设置连接池。
//
// 参数:
//
//	cfg: 数据库配置（driver 为 mysql 或 sqlite）
//
// 返回值:
//
//	*gorm.DB: 数据库连接
//	error: 打开失败返回错误
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite 只允许单写连接，:memory: 库也只存在于单个连接内
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate 自动迁移所有表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Task{}, &model.Reminder{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
