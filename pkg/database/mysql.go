// Package database 负责创建 MySQL 与 Redis 连接。
package database

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qarag-go/internal/config"
	"qarag-go/pkg/log"
)

// NewMySQL 打开 MySQL 连接并配置连接池。连接按操作获取、用完归还。
func NewMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)       // 空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)       // 打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime) // 连接可复用的最大时间

	log.Info("MySQL database connected successfully")
	return db, nil
}
